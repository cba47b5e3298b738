package account

import (
	"errors"
	"sort"
	"strings"

	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/otp"
)

var (
	ErrDuplicateField     = errors.New("duplicate_field")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrNotConfirmed       = errors.New("email_not_confirmed")
	ErrUserNotFound       = errors.New("user_not_found")
	ErrStore              = errors.New("store_error")
	ErrActivation         = errors.New("activation_failed")
)

// ValidationError lists missing or malformed input fields with a message
// for each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

// DuplicateFieldError reports a unique field collision. Reserved marks the
// admin username, which is never available.
type DuplicateFieldError struct {
	Field    model.Field
	Reserved bool
}

func (e *DuplicateFieldError) Error() string {
	if e.Reserved {
		return "reserved " + string(e.Field)
	}
	return "duplicate " + string(e.Field)
}

func (e *DuplicateFieldError) Is(target error) bool { return target == ErrDuplicateField }

// StoreError wraps an unexpected persistence failure during Op.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Store operations that belong to account creation.
const (
	opPrecheck       = "precheck"
	opCreateIdentity = "create_identity"
	opCreateProfile  = "create_profile"
	opIssueOTP       = "issue_otp"
)

func isCreateOp(op string) bool {
	switch op {
	case opPrecheck, opCreateIdentity, opCreateProfile, opIssueOTP:
		return true
	}
	return false
}

const (
	MsgUsernameTaken   = "Username already exists. Please choose a different username."
	MsgUsernameReserve = "Username 'Admin' is reserved. Please choose a different username."
	MsgEmailTaken      = "Email already registered. Please use a different email address."
	MsgMobileTaken     = "Mobile number already registered. Please use a different mobile number."
	MsgCreateFailed    = "Account creation failed. Please try again."
	MsgInvalidOTP      = "Invalid or expired OTP"
	MsgTooManyRequests = "Please wait a minute before requesting another code."
	MsgNotConfirmed    = "Please verify your email before logging in. Check your inbox for the verification code."
	MsgBadPassword     = "Invalid password. Please check your password and try again."
	MsgUserNotFound    = "User doesn't exist. Please check your username or sign up for a new account."
	MsgActivation      = "Account activation failed. Please request a new code."
	MsgValidation      = "Please correct the highlighted fields."
	MsgGeneric         = "Something went wrong. Please try again."
)

// UserMessage turns any error from this package into text safe to show an
// end user. Store error text never passes through.
func UserMessage(err error) string {
	var (
		ve *ValidationError
		de *DuplicateFieldError
		se *StoreError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return MsgValidation
	case errors.As(err, &de):
		if de.Reserved {
			return MsgUsernameReserve
		}
		switch de.Field {
		case model.FieldUsername:
			return MsgUsernameTaken
		case model.FieldEmail:
			return MsgEmailTaken
		case model.FieldMobileNumber:
			return MsgMobileTaken
		}
		return MsgCreateFailed
	case errors.Is(err, otp.ErrInvalidOrExpired):
		return MsgInvalidOTP
	case errors.Is(err, otp.ErrTooManyRequests):
		return MsgTooManyRequests
	case errors.Is(err, ErrNotConfirmed):
		return MsgNotConfirmed
	case errors.Is(err, ErrInvalidCredentials):
		return MsgBadPassword
	case errors.Is(err, ErrUserNotFound):
		return MsgUserNotFound
	case errors.Is(err, ErrActivation):
		return MsgActivation
	case errors.As(err, &se):
		if isCreateOp(se.Op) {
			return MsgCreateFailed
		}
	}
	return MsgGeneric
}

// Code is the machine-readable counterpart of UserMessage.
func Code(err error) string {
	var (
		ve *ValidationError
		de *DuplicateFieldError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &de):
		if de.Reserved {
			return "reserved_username"
		}
		return "duplicate_" + string(de.Field)
	case errors.Is(err, otp.ErrInvalidOrExpired):
		return "invalid_or_expired"
	case errors.Is(err, otp.ErrTooManyRequests):
		return "too_many_requests"
	case errors.Is(err, ErrNotConfirmed):
		return "email_not_confirmed"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrActivation):
		return "activation_failed"
	case errors.Is(err, ErrStore):
		return "store_error"
	}
	return "internal"
}
