package model

// ProfileAssociation maps one value to its display representation.
type ProfileAssociation struct {
	Value float64 `json:"Value"`
	Name  string  `json:"Name"`
	Icon  string  `json:"Icon"`
	Color int64   `json:"Color"`
}

// Profile is the display metadata of a variable: range, step, formatting, and
// the ordered value→label associations. Profiles are immutable once created
// locally; receiving the same name again is a no-op.
type Profile struct {
	Name         string               `json:"Name"`
	Type         Kind                 `json:"Type"`
	MinValue     float64              `json:"MinValue"`
	MaxValue     float64              `json:"MaxValue"`
	StepSize     float64              `json:"StepSize"`
	Digits       int                  `json:"Digits"`
	Prefix       string               `json:"Prefix"`
	Suffix       string               `json:"Suffix"`
	Associations []ProfileAssociation `json:"Associations,omitempty"`
}

// Valid reports whether the profile carries the fields a receiver requires.
func (p Profile) Valid() bool {
	if p.Name == "" {
		return false
	}
	_, err := ParseKind(string(p.Type))
	return err == nil
}
