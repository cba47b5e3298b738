package model

import "time"

// Identity is the authentication-side record owned by the credential store.
type Identity struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Confirmed    bool              `json:"confirmed"`
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Metadata keys carried on an Identity.
const (
	MetaUsername    = "username"
	MetaDisplayName = "display_name"
)
