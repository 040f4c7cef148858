package models

import "time"

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// UserProfile is the optional self-description a user shares with personas.
type UserProfile struct {
	Age        *int    `json:"age,omitempty"`
	Gender     *Gender `json:"gender,omitempty"`
	Occupation *string `json:"occupation,omitempty"`
}

// User represents an application user record.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	Nickname     string       `json:"nickname"`
	PasswordHash string       `json:"-"`
	Profile      *UserProfile `json:"profile,omitempty"`
	IsSuper      bool         `json:"isSuper"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	LastActiveAt *time.Time   `json:"lastActiveAt,omitempty"`
}

// Sanitize returns a copy of the user without sensitive fields populated.
func (u User) Sanitize() User {
	u.PasswordHash = ""
	return u
}
