package store

import (
	"context"
	"errors"
	"time"

	"mai-accounts/accountd/internal/model"
)

var (
	ErrNotFound           = errors.New("not_found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrNotConfirmed       = errors.New("email_not_confirmed")
)

// ConflictError reports which unique constraint rejected a write.
// Field is a model.Field name, or "id" for a primary key collision.
type ConflictError struct {
	Field      string
	Constraint string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return "conflict"
	}
	return "conflict on " + e.Field
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// FieldFromConstraint maps a unique index name to the profile field it guards.
func FieldFromConstraint(name string) string {
	switch name {
	case "unique_username":
		return string(model.FieldUsername)
	case "unique_email", "identities_email_key":
		return string(model.FieldEmail)
	case "unique_mobile_number":
		return string(model.FieldMobileNumber)
	case "profiles_pkey", "identities_pkey":
		return "id"
	}
	return ""
}

type ProfileFilter struct {
	IsAdmin *bool
	Limit   int
}

// CredentialStore owns Identities. Passwords are hashed by the store.
type CredentialStore interface {
	CreateIdentity(ctx context.Context, email, password string, confirmed bool, meta map[string]string) (model.Identity, error)
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	ConfirmIdentity(ctx context.Context, id string) error
	// SetPassword replaces the credential of the Identity with id.
	SetPassword(ctx context.Context, id, password string) error
	VerifyPassword(ctx context.Context, email, password string) (*model.Identity, error)
	ListUnconfirmedIdentities(ctx context.Context, createdBefore time.Time, limit int) ([]model.Identity, error)
	CountIdentities(ctx context.Context) (total int, unconfirmed int, err error)
}

// ProfileStore owns Profiles. Username, email and mobile number are unique.
type ProfileStore interface {
	InsertProfile(ctx context.Context, p model.Profile) (model.Profile, error)
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	FindProfile(ctx context.Context, field model.Field, value string) (*model.Profile, error)
	DeleteProfile(ctx context.Context, id string) error
	ListProfiles(ctx context.Context, f ProfileFilter) ([]model.Profile, error)
	CountProfiles(ctx context.Context) (total int, admins int, err error)
}

// OTPStore persists verification challenges.
type OTPStore interface {
	InsertOTP(ctx context.Context, rec model.OTPRecord) (model.OTPRecord, error)
	LatestOTP(ctx context.Context, email string) (*model.OTPRecord, error)
	// DeleteUnusedOTPs removes every unused record for email except keepID,
	// which may be empty.
	DeleteUnusedOTPs(ctx context.Context, email, keepID string) (int, error)
	// ConsumeOTP marks the most recent unused, unexpired record matching
	// email and code as used and returns it. Only one caller can win.
	ConsumeOTP(ctx context.Context, email, code string, now time.Time) (*model.OTPRecord, error)
	DeleteOTPs(ctx context.Context, email string) error
	PurgeOTPsBefore(ctx context.Context, before time.Time) (int, error)
}

// Store is implemented by backends that hold every collection.
type Store interface {
	CredentialStore
	ProfileStore
	OTPStore
}
