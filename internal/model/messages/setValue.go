package messages

import "encoding/json"

// SetValue asks the peer that owns the identifier to apply a value through
// its action framework. Fire-and-forget; the outcome arrives later as an
// ActionResult.
type SetValue struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Value      json.RawMessage `json:"value"`
	ValueType  string          `json:"valueType"`
	Timestamp  int64           `json:"timestamp"`
}
