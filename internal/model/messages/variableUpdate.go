package messages

import (
	"encoding/json"

	"github.com/varbridge/varbridge/internal/model"
)

// PathSegment locates one ancestor of a variable, ordered mirror-root first.
// The receiving side replays the sequence to rebuild the hierarchy.
type PathSegment struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// Definition carries everything a receiver needs to create the mirror
// variable: display name, kind, optional profile reference, whether the
// variable accepts remote actions, and the deterministic ident used for
// reverse lookup.
type Definition struct {
	Name    string     `json:"name"`
	Type    model.Kind `json:"type"`
	Profile string     `json:"profile,omitempty"`
	Action  bool       `json:"action"`
	Ident   string     `json:"ident"`
}

// VariableUpdate publishes the current value (and enough structure to mirror
// it) of one variable. Initial distinguishes a bulk resync from a live change.
type VariableUpdate struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Path       []PathSegment   `json:"path"`
	Definition Definition      `json:"definition"`
	Value      json.RawMessage `json:"value"`
	ValueType  string          `json:"valueType"`
	Initial    bool            `json:"initial"`
	Timestamp  int64           `json:"timestamp"`
}
