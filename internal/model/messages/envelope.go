package messages

import (
	"encoding/json"
	"fmt"
)

// Wire message types exchanged between the two installations.
const (
	TypeProfile        = "profile"
	TypeVariableUpdate = "variableUpdate"
	TypeSetValue       = "setValue"
	TypeActionResult   = "actionResult"
)

// Envelope is the common head of every payload; it is decoded first so the
// dispatcher can pick the concrete message type.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// PeekType decodes just the envelope of a raw payload.
func PeekType(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope without type")
	}
	return env, nil
}
