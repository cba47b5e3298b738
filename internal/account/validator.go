package account

import (
	"context"
	"errors"
	"strings"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/store"
)

// ReservedUsername can never be registered.
const ReservedUsername = "admin"

// Validator answers whether a unique profile field is still free. The
// answer is advisory: two signups can both pass it, and the store's unique
// indexes decide the winner.
type Validator struct {
	profiles store.ProfileStore
	reserved []string
}

// NewValidator reserves "admin" plus any extra names, such as a configured
// admin username.
func NewValidator(profiles store.ProfileStore, extraReserved ...string) *Validator {
	v := &Validator{profiles: profiles, reserved: []string{ReservedUsername}}
	for _, name := range extraReserved {
		if name = strings.TrimSpace(name); name != "" && !strings.EqualFold(name, ReservedUsername) {
			v.reserved = append(v.reserved, name)
		}
	}
	return v
}

func (v *Validator) IsReserved(username string) bool {
	username = strings.TrimSpace(username)
	for _, r := range v.reserved {
		if strings.EqualFold(username, r) {
			return true
		}
	}
	return false
}

// CheckUnique reports whether value is unused for field. Reserved
// usernames are rejected without touching the store.
func (v *Validator) CheckUnique(ctx context.Context, field model.Field, value string) (bool, error) {
	value = strings.TrimSpace(value)
	if field == model.FieldUsername && v.IsReserved(value) {
		return false, nil
	}
	if value == "" {
		return true, nil
	}

	_, err := v.profiles.FindProfile(ctx, field, value)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return true, nil
	case err != nil:
		return false, err
	}
	return false, nil
}

// CheckAccount runs CheckUnique for every unique field of acct in order and
// returns the first collision as a *DuplicateFieldError.
func (v *Validator) CheckAccount(ctx context.Context, acct model.NewAccount) error {
	p := acct.Profile("")
	for _, f := range model.UniqueFields {
		unique, err := v.CheckUnique(ctx, f, p.Value(f))
		if err != nil {
			return storeErr(opPrecheck, err)
		}
		if !unique {
			return &DuplicateFieldError{Field: f, Reserved: f == model.FieldUsername && v.IsReserved(p.Username)}
		}
	}
	return nil
}
