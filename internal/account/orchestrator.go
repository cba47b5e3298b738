package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"mai-accounts/accountd/internal/metrics"
	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/otp"
	"mai-accounts/accountd/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	MinPasswordLength = 6

	DashboardPath = "/dashboard"
	AdminPath     = "/admin"
)

// AdminAuthenticator checks the out-of-band admin credential. The admin
// principal has no Identity or Profile.
type AdminAuthenticator interface {
	// Matches reports whether username names the admin principal.
	Matches(username string) bool
	Authenticate(username, password, totpCode string) bool
}

type Deps struct {
	Credentials store.CredentialStore
	Profiles    store.ProfileStore
	Validator   *Validator
	Provisioner *Provisioner
	OTP         *otp.Engine
	Admin       AdminAuthenticator
	Metrics     *metrics.Metrics
	Log         logrus.FieldLogger
	Now         func() time.Time
}

// Orchestrator sequences signup, verification and login over the
// validator, provisioner and OTP engine.
type Orchestrator struct {
	creds       store.CredentialStore
	profiles    store.ProfileStore
	validator   *Validator
	provisioner *Provisioner
	otp         *otp.Engine
	admin       AdminAuthenticator
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	now         func() time.Time
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		creds:       d.Credentials,
		profiles:    d.Profiles,
		validator:   d.Validator,
		provisioner: d.Provisioner,
		otp:         d.OTP,
		admin:       d.Admin,
		metrics:     d.Metrics,
		log:         d.Log.WithField("component", "orchestrator"),
		now:         d.Now,
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

func (o *Orchestrator) Validator() *Validator { return o.validator }

type PendingSignup struct {
	IdentityID string    `json:"identity_id"`
	Email      string    `json:"email"`
	ExpiresAt  time.Time `json:"otp_expires_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// TOTP is only consulted for the admin principal.
	TOTP string `json:"totp,omitempty"`
}

type LoginResult struct {
	Identity *model.Identity
	Profile  *model.Profile
	// Admin means the caller should also receive an admin session.
	Admin    bool
	Redirect string
}

// Signup validates acct, provisions a pending account and issues the
// verification code. Any failure after the Identity exists removes what
// was created.
func (o *Orchestrator) Signup(ctx context.Context, acct model.NewAccount) (PendingSignup, error) {
	acct = acct.Normalize()
	if err := validateAccount(acct); err != nil {
		o.metrics.Signup("invalid")
		return PendingSignup{}, err
	}

	ident, _, err := o.provisioner.CreatePendingAccount(ctx, acct)
	if err != nil {
		o.metrics.Signup(signupResult(err))
		o.log.WithError(err).WithField("username", acct.Username).Info("signup rejected")
		return PendingSignup{}, err
	}

	rec, err := o.otp.Issue(ctx, ident.Email, signupPayload(ident.ID))
	if err != nil {
		o.log.WithError(err).WithField("identity_id", ident.ID).Warn("issuing code failed, rolling back")
		o.provisioner.rollback(ctx, ident.ID)
		o.metrics.Signup("error")
		return PendingSignup{}, storeErr(opIssueOTP, err)
	}

	o.metrics.Signup("ok")
	o.log.WithFields(logrus.Fields{"identity_id": ident.ID, "username": acct.Username}).Info("account pending verification")
	return PendingSignup{IdentityID: ident.ID, Email: ident.Email, ExpiresAt: rec.ExpiresAt}, nil
}

// VerifyOTP consumes the code and activates the account it was issued for.
func (o *Orchestrator) VerifyOTP(ctx context.Context, email, code string) (*model.Identity, error) {
	payload, err := o.otp.Verify(ctx, email, code)
	if err != nil {
		if errors.Is(err, otp.ErrInvalidOrExpired) {
			return nil, err
		}
		return nil, storeErr("verify_otp", err)
	}
	if model.PurposeOf(payload) != model.PurposeSignup {
		o.log.WithField("email", email).Warn("reset code presented for activation")
		return nil, otp.ErrInvalidOrExpired
	}

	ident, err := o.provisioner.Finalize(ctx, payload[model.PayloadIdentityID])
	if err != nil {
		o.log.WithError(err).WithField("email", email).Error("activation failed after code was accepted")
		return nil, err
	}

	o.log.WithField("identity_id", ident.ID).Info("account verified")
	return ident, nil
}

// ResendOTP issues a fresh code for a pending account. Unknown and already
// confirmed emails succeed silently.
func (o *Orchestrator) ResendOTP(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return &ValidationError{Fields: map[string]string{"email": "Email is required."}}
	}

	ident, err := o.creds.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.log.WithField("email", email).Debug("resend for unknown email ignored")
			return nil
		}
		return storeErr("get_identity", err)
	}
	if ident.Confirmed {
		o.log.WithField("identity_id", ident.ID).Debug("resend for confirmed account ignored")
		return nil
	}

	_, err = o.otp.Resend(ctx, ident.Email, signupPayload(ident.ID))
	if err != nil {
		if errors.Is(err, otp.ErrTooManyRequests) {
			return err
		}
		return storeErr("resend_otp", err)
	}
	return nil
}

// ForgotPassword sends a reset code to a confirmed account. Unknown and
// unconfirmed emails succeed silently.
func (o *Orchestrator) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return &ValidationError{Fields: map[string]string{"email": "Email is required."}}
	}

	ident, err := o.creds.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.log.WithField("email", email).Debug("reset for unknown email ignored")
			return nil
		}
		return storeErr("get_identity", err)
	}
	if !ident.Confirmed {
		o.log.WithField("identity_id", ident.ID).Debug("reset for unconfirmed account ignored")
		return nil
	}

	_, err = o.otp.Resend(ctx, ident.Email, map[string]string{
		model.PayloadIdentityID: ident.ID,
		model.PayloadPurpose:    model.PurposePasswordReset,
	})
	if err != nil {
		if errors.Is(err, otp.ErrTooManyRequests) {
			return err
		}
		return storeErr("issue_reset", err)
	}
	o.log.WithField("identity_id", ident.ID).Info("password reset requested")
	return nil
}

// ResetPassword consumes a reset code and replaces the account password.
func (o *Orchestrator) ResetPassword(ctx context.Context, email, code, password string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{Fields: map[string]string{"password": "Password must be at least 6 characters."}}
	}

	payload, err := o.otp.Verify(ctx, email, code)
	if err != nil {
		if errors.Is(err, otp.ErrInvalidOrExpired) {
			return err
		}
		return storeErr("verify_otp", err)
	}
	if model.PurposeOf(payload) != model.PurposePasswordReset {
		o.log.WithField("email", email).Warn("signup code presented for password reset")
		return otp.ErrInvalidOrExpired
	}

	id := payload[model.PayloadIdentityID]
	if err := o.creds.SetPassword(ctx, id, password); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return storeErr("set_password", err)
	}
	o.log.WithField("identity_id", id).Info("password reset")
	return nil
}

// Login resolves username to an email through the profile store and checks
// the password against the credential store. The admin principal is
// checked first and never reaches either store.
func (o *Orchestrator) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	username := strings.TrimSpace(req.Username)
	ve := &ValidationError{}
	if username == "" {
		ve.add("username", "Username is required.")
	}
	if req.Password == "" {
		ve.add("password", "Password is required.")
	}
	if !ve.empty() {
		return LoginResult{}, ve
	}

	if o.admin != nil && o.admin.Matches(username) {
		if !o.admin.Authenticate(username, req.Password, req.TOTP) {
			o.metrics.Login("admin_denied")
			o.log.Warn("admin login rejected")
			return LoginResult{}, ErrInvalidCredentials
		}
		o.metrics.Login("admin")
		o.log.Info("admin login")
		return LoginResult{Admin: true, Redirect: AdminPath}, nil
	}

	prof, err := o.profiles.FindProfile(ctx, model.FieldUsername, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.metrics.Login("unknown_user")
			return LoginResult{}, ErrUserNotFound
		}
		o.metrics.Login("error")
		return LoginResult{}, storeErr("find_profile", err)
	}

	ident, err := o.creds.VerifyPassword(ctx, prof.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotConfirmed):
			o.metrics.Login("not_confirmed")
			return LoginResult{}, ErrNotConfirmed
		case errors.Is(err, store.ErrInvalidCredentials):
			o.metrics.Login("bad_password")
			return LoginResult{}, ErrInvalidCredentials
		}
		o.metrics.Login("error")
		return LoginResult{}, storeErr("verify_password", err)
	}

	o.metrics.Login("ok")
	o.log.WithField("identity_id", ident.ID).Info("login")
	return LoginResult{Identity: ident, Profile: prof, Admin: prof.IsAdmin, Redirect: DashboardPath}, nil
}

// VerificationStatus returns the Identity behind a user session.
func (o *Orchestrator) VerificationStatus(ctx context.Context, identityID string) (*model.Identity, error) {
	ident, err := o.creds.GetIdentity(ctx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeErr("get_identity", err)
	}
	return ident, nil
}

func (o *Orchestrator) DeleteAccount(ctx context.Context, id string) error {
	return o.provisioner.DeleteAccount(ctx, id)
}

type ClearResult struct {
	Deleted int      `json:"deletedCount"`
	Errors  []string `json:"errors,omitempty"`
}

// ClearNonAdmin deletes every account whose profile is not flagged admin.
func (o *Orchestrator) ClearNonAdmin(ctx context.Context) (ClearResult, error) {
	notAdmin := false
	profiles, err := o.profiles.ListProfiles(ctx, store.ProfileFilter{IsAdmin: &notAdmin})
	if err != nil {
		return ClearResult{}, storeErr("list_profiles", err)
	}

	var res ClearResult
	for _, p := range profiles {
		if err := o.provisioner.DeleteAccount(ctx, p.ID); err != nil && !errors.Is(err, ErrUserNotFound) {
			res.Errors = append(res.Errors, p.Username+": "+UserMessage(err))
			continue
		}
		res.Deleted++
	}

	o.log.WithFields(logrus.Fields{"deleted": res.Deleted, "failed": len(res.Errors)}).Info("non-admin accounts cleared")
	return res, nil
}

// PrunePending deletes accounts still unconfirmed after ttl.
func (o *Orchestrator) PrunePending(ctx context.Context, ttl time.Duration) (int, error) {
	idents, err := o.creds.ListUnconfirmedIdentities(ctx, o.now().Add(-ttl), 500)
	if err != nil {
		return 0, storeErr("list_unconfirmed", err)
	}

	n := 0
	for _, ident := range idents {
		if err := o.provisioner.DeleteAccount(ctx, ident.ID); err != nil && !errors.Is(err, ErrUserNotFound) {
			o.log.WithError(err).WithField("identity_id", ident.ID).Warn("pending account prune failed")
			continue
		}
		n++
	}
	return n, nil
}

func (o *Orchestrator) Stats(ctx context.Context) (model.AccountStats, error) {
	profiles, admins, err := o.profiles.CountProfiles(ctx)
	if err != nil {
		return model.AccountStats{}, storeErr("count_profiles", err)
	}
	identities, unconfirmed, err := o.creds.CountIdentities(ctx)
	if err != nil {
		return model.AccountStats{}, storeErr("count_identities", err)
	}
	return model.AccountStats{
		Profiles:              profiles,
		AdminProfiles:         admins,
		Identities:            identities,
		UnconfirmedIdentities: unconfirmed,
	}, nil
}

func validateAccount(a model.NewAccount) error {
	ve := &ValidationError{}
	if a.Username == "" {
		ve.add("username", "Username is required.")
	}
	if a.Email == "" {
		ve.add("email", "Email is required.")
	} else if addr, err := mail.ParseAddress(a.Email); err != nil || addr.Address != a.Email {
		ve.add("email", "Please enter a valid email address.")
	}
	if len(a.Password) < MinPasswordLength {
		ve.add("password", "Password must be at least 6 characters.")
	}
	if a.FirstName == "" {
		ve.add("firstName", "First name is required.")
	}
	if a.LastName == "" {
		ve.add("lastName", "Last name is required.")
	}
	if a.MobileNumber == "" {
		ve.add("mobileNumber", "Mobile number is required.")
	}
	if ve.empty() {
		return nil
	}
	return ve
}

func signupPayload(id string) map[string]string {
	return map[string]string{
		model.PayloadIdentityID: id,
		model.PayloadProfileID:  id,
		model.PayloadPurpose:    model.PurposeSignup,
	}
}

func signupResult(err error) string {
	var de *DuplicateFieldError
	switch {
	case errors.As(err, &de) && de.Reserved:
		return "reserved"
	case errors.As(err, &de):
		return "duplicate"
	}
	return "error"
}
