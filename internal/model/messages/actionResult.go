package messages

// ActionResult acknowledges an earlier SetValue for the same identifier.
// Results may arrive late or duplicated; handling is idempotent.
type ActionResult struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}
