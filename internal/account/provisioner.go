package account

import (
	"context"
	"errors"
	"fmt"

	"mai-accounts/accountd/internal/metrics"
	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/notice"
	"mai-accounts/accountd/internal/store"

	"github.com/sirupsen/logrus"
)

// Provisioner creates and removes accounts across the credential store and
// the profile store. There is no transaction spanning both, so every failed
// step undoes the earlier ones before returning.
type Provisioner struct {
	creds     store.CredentialStore
	profiles  store.ProfileStore
	validator *Validator
	notices   *notice.Tracker
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

func NewProvisioner(creds store.CredentialStore, profiles store.ProfileStore, v *Validator, notices *notice.Tracker, m *metrics.Metrics, log logrus.FieldLogger) *Provisioner {
	return &Provisioner{
		creds:     creds,
		profiles:  profiles,
		validator: v,
		notices:   notices,
		metrics:   m,
		log:       log.WithField("component", "provisioner"),
	}
}

// CreatePendingAccount stores an unconfirmed Identity and a Profile with the
// same ID. If the profile write fails the Identity is deleted again.
func (p *Provisioner) CreatePendingAccount(ctx context.Context, acct model.NewAccount) (model.Identity, model.Profile, error) {
	if err := p.validator.CheckAccount(ctx, acct); err != nil {
		return model.Identity{}, model.Profile{}, err
	}

	meta := map[string]string{
		model.MetaUsername:    acct.Username,
		model.MetaDisplayName: acct.Profile("").FullName,
	}
	ident, err := p.creds.CreateIdentity(ctx, acct.Email, acct.Password, false, meta)
	if err != nil {
		return model.Identity{}, model.Profile{}, conflictOr(err, opCreateIdentity)
	}

	prof, err := p.profiles.InsertProfile(ctx, acct.Profile(ident.ID))
	if err != nil {
		p.log.WithError(err).WithField("identity_id", ident.ID).Info("profile write failed, removing identity")
		p.compensateIdentity(ctx, ident.ID)
		return model.Identity{}, model.Profile{}, conflictOr(err, opCreateProfile)
	}

	return ident, prof, nil
}

// Finalize confirms the Identity created by CreatePendingAccount.
func (p *Provisioner) Finalize(ctx context.Context, identityID string) (*model.Identity, error) {
	if identityID == "" {
		return nil, fmt.Errorf("%w: missing identity reference", ErrActivation)
	}

	if _, err := p.profiles.GetProfile(ctx, identityID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: profile %s missing", ErrActivation, identityID)
		}
		return nil, fmt.Errorf("%w: %w", ErrActivation, storeErr("get_profile", err))
	}

	if err := p.creds.ConfirmIdentity(ctx, identityID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: identity %s missing", ErrActivation, identityID)
		}
		return nil, fmt.Errorf("%w: %w", ErrActivation, storeErr("confirm_identity", err))
	}

	ident, err := p.creds.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActivation, storeErr("get_identity", err))
	}
	return ident, nil
}

// DeleteAccount removes the Profile and then the Identity. A half-deleted
// account is logged and raised as an operator notice; calling again is safe.
func (p *Provisioner) DeleteAccount(ctx context.Context, id string) error {
	profErr := p.profiles.DeleteProfile(ctx, id)
	identErr := p.creds.DeleteIdentity(ctx, id)

	profGone := profErr == nil || errors.Is(profErr, store.ErrNotFound)
	identGone := identErr == nil || errors.Is(identErr, store.ErrNotFound)

	switch {
	case errors.Is(profErr, store.ErrNotFound) && errors.Is(identErr, store.ErrNotFound):
		return ErrUserNotFound
	case profGone && identGone:
		return nil
	}

	p.inconsistency(id, "account partially deleted", logrus.Fields{
		"profile_error":  errString(profErr),
		"identity_error": errString(identErr),
	})
	if !profGone {
		return storeErr("delete_profile", profErr)
	}
	return storeErr("delete_identity", identErr)
}

// rollback undoes a freshly created account in reverse creation order.
func (p *Provisioner) rollback(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := p.profiles.DeleteProfile(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.metrics.Compensation("delete_profile", "failed")
		p.inconsistency(id, "rollback could not delete profile", logrus.Fields{"error": err.Error()})
	} else {
		p.metrics.Compensation("delete_profile", "ok")
	}
	p.compensateIdentity(ctx, id)
}

func (p *Provisioner) compensateIdentity(ctx context.Context, id string) {
	// The request context may already be cancelled; the cleanup still has
	// to reach the store.
	ctx = context.WithoutCancel(ctx)
	if err := p.creds.DeleteIdentity(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.metrics.Compensation("delete_identity", "failed")
		p.inconsistency(id, "rollback could not delete identity", logrus.Fields{"error": err.Error()})
		return
	}
	p.metrics.Compensation("delete_identity", "ok")
}

func (p *Provisioner) inconsistency(id, msg string, fields logrus.Fields) {
	p.log.WithFields(fields).WithFields(logrus.Fields{
		"account_id":    id,
		"inconsistency": true,
	}).Error(msg)

	if p.notices != nil {
		extra := make(map[string]any, len(fields))
		for k, v := range fields {
			extra[k] = v
		}
		p.notices.Raise(notice.Notice{
			Type:    notice.TypeInconsistency,
			Subject: id,
			Message: msg,
			Extra:   extra,
		})
	}
}

// conflictOr maps a unique constraint violation to a *DuplicateFieldError
// and wraps anything else as a store failure of op.
func conflictOr(err error, op string) error {
	var ce *store.ConflictError
	if errors.As(err, &ce) {
		if f, ok := model.ParseField(ce.Field); ok {
			return &DuplicateFieldError{Field: f}
		}
	}
	return storeErr(op, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
