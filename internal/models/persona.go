package models

// Persona holds the static attributes of a chat character.
type Persona struct {
	ID           string   `json:"id" yaml:"-"`
	Name         string   `json:"name" yaml:"name"`
	Introduction string   `json:"introduction" yaml:"introduction"`
	Height       string   `json:"height" yaml:"height"`
	Weight       string   `json:"weight" yaml:"weight"`
	Birth        string   `json:"birth" yaml:"birth"`
	Job          string   `json:"job" yaml:"job"`
	MBTI         string   `json:"mbti" yaml:"mbti"`
	Hobbies      []string `json:"hobbies" yaml:"hobbies"`
	Extra        string   `json:"extra" yaml:"extra"`
	ImageURL     string   `json:"profileImageUrl" yaml:"-"`
}
