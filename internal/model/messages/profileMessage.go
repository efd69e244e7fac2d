package messages

import "github.com/varbridge/varbridge/internal/model"

// ProfileMessage announces a profile definition ahead of the first variable
// that references it. Receivers create a prefixed local copy once and ignore
// repeats.
type ProfileMessage struct {
	Type      string        `json:"type"`
	Profile   model.Profile `json:"profile"`
	Timestamp int64         `json:"timestamp"`
}

func NewProfileMessage(p model.Profile, ts int64) ProfileMessage {
	return ProfileMessage{Type: TypeProfile, Profile: p, Timestamp: ts}
}
