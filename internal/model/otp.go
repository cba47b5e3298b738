package model

import "time"

// OTPRecord is an issued email verification challenge.
type OTPRecord struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Code      string            `json:"-"`
	Payload   map[string]string `json:"payload,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
	Used      bool              `json:"used"`
	CreatedAt time.Time         `json:"created_at"`
}

// Payload keys carried from issue to verification.
const (
	PayloadIdentityID = "identity_id"
	PayloadProfileID  = "profile_id"
	PayloadPurpose    = "purpose"
)

// Code purposes. A record without a purpose is a signup code.
const (
	PurposeSignup        = "signup"
	PurposePasswordReset = "password_reset"
)

// PurposeOf reports what a code carrying payload was issued for.
func PurposeOf(payload map[string]string) string {
	if p := payload[PayloadPurpose]; p != "" {
		return p
	}
	return PurposeSignup
}

func (r OTPRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
