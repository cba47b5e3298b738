// Package otp issues and verifies six-digit email verification codes.
//
// Per email there is at most one live challenge: issuing a new code stores
// it and then deletes every other unused one. Verification consumes the record atomically in the
// store, so a correct code can succeed only once. Wrong, expired, consumed
// and unknown codes all fail the same way.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"mai-accounts/accountd/internal/metrics"
	"mai-accounts/accountd/internal/model"
	"mai-accounts/accountd/internal/notice"
	"mai-accounts/accountd/internal/notify"
	"mai-accounts/accountd/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL            = 10 * time.Minute
	DefaultResendCooldown = 60 * time.Second

	codeMin   = 100000
	codeRange = 900000
)

var (
	ErrInvalidOrExpired = errors.New("invalid_or_expired")
	ErrTooManyRequests  = errors.New("too_many_requests")
)

type Engine struct {
	store    store.OTPStore
	notifier notify.Notifier
	notices  *notice.Tracker
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	ttl      time.Duration
	cooldown time.Duration
	now      func() time.Time
	rand     io.Reader
}

type Option func(*Engine)

func WithTTL(d time.Duration) Option { return func(e *Engine) { e.ttl = d } }

// WithResendCooldown sets the minimum gap between codes for one email on
// Resend. Zero disables it.
func WithResendCooldown(d time.Duration) Option { return func(e *Engine) { e.cooldown = d } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithNotices makes undelivered codes visible to operators.
func WithNotices(t *notice.Tracker) Option { return func(e *Engine) { e.notices = t } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithRand(r io.Reader) Option { return func(e *Engine) { e.rand = r } }

func NewEngine(st store.OTPStore, n notify.Notifier, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		notifier: n,
		log:      log.WithField("component", "otp"),
		ttl:      DefaultTTL,
		cooldown: DefaultResendCooldown,
		now:      func() time.Time { return time.Now().UTC() },
		rand:     rand.Reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) TTL() time.Duration { return e.ttl }

// Issue stores a fresh code for email carrying payload, supersedes any
// pending one and hands the new code to the notifier. Delivery failure does not fail the
// call: the code stays valid and is raised as an operator notice.
func (e *Engine) Issue(ctx context.Context, email string, payload map[string]string) (model.OTPRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return model.OTPRecord{}, errors.New("email_required")
	}

	code, err := e.generate()
	if err != nil {
		return model.OTPRecord{}, fmt.Errorf("generate code: %w", err)
	}

	now := e.now()
	rec, err := e.store.InsertOTP(ctx, model.OTPRecord{
		Email:     email,
		Code:      code,
		Payload:   payload,
		ExpiresAt: now.Add(e.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return model.OTPRecord{}, fmt.Errorf("store code: %w", err)
	}

	// The older codes go only once the new one is stored.
	if _, err := e.store.DeleteUnusedOTPs(ctx, email, rec.ID); err != nil {
		e.log.WithError(err).WithField("email", email).Warn("older codes not superseded")
	}

	sendCtx := ctx
	if model.PurposeOf(payload) == model.PurposePasswordReset {
		sendCtx = notify.ForPasswordReset(ctx)
	}
	if err := e.notifier.Send(sendCtx, email, code); err != nil {
		e.metrics.OTPIssued("failed")
		e.log.WithError(err).WithField("email", email).Warn("verification code not delivered")
		if e.notices != nil {
			e.notices.Raise(notice.Notice{
				Type:    notice.TypeDeliveryFailed,
				Subject: email,
				Message: fmt.Sprintf("Verification code for %s could not be delivered", email),
				Extra: map[string]any{
					"code":       code,
					"expires_at": rec.ExpiresAt,
				},
			})
		}
		return rec, nil
	}

	e.metrics.OTPIssued("sent")
	return rec, nil
}

// Verify consumes the newest live code for email and returns its payload.
func (e *Engine) Verify(ctx context.Context, email, code string) (map[string]string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		e.metrics.OTPVerification("invalid")
		return nil, ErrInvalidOrExpired
	}

	rec, err := e.store.ConsumeOTP(ctx, email, code, e.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metrics.OTPVerification("invalid")
			return nil, ErrInvalidOrExpired
		}
		e.metrics.OTPVerification("error")
		return nil, fmt.Errorf("consume code: %w", err)
	}

	if e.notices != nil {
		e.notices.Clear(email, notice.TypeDeliveryFailed)
	}
	e.metrics.OTPVerification("ok")
	return rec.Payload, nil
}

// Resend issues a new code unless the previous one is younger than the
// cooldown.
func (e *Engine) Resend(ctx context.Context, email string, payload map[string]string) (model.OTPRecord, error) {
	if e.cooldown > 0 {
		last, err := e.store.LatestOTP(ctx, email)
		switch {
		case err == nil:
			if e.now().Sub(last.CreatedAt) < e.cooldown {
				return model.OTPRecord{}, ErrTooManyRequests
			}
		case !errors.Is(err, store.ErrNotFound):
			return model.OTPRecord{}, fmt.Errorf("latest code: %w", err)
		}
	}
	return e.Issue(ctx, email, payload)
}

// Purge removes records that expired before now minus retention.
func (e *Engine) Purge(ctx context.Context, retention time.Duration) (int, error) {
	return e.store.PurgeOTPsBefore(ctx, e.now().Add(-retention))
}

func (e *Engine) generate() (string, error) {
	n, err := rand.Int(e.rand, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
