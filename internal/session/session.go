// Package session manages the admin session: a signed, encrypted cookie
// holding {sid, isAdmin, lastActivity} with an idle timeout that slides on
// every tracked activity.
package session

import (
	"crypto/sha256"
	"errors"
	"net/http"
	"time"

	"mai-accounts/accountd/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
)

const (
	CookieName = "admin-session"

	DefaultIdleTimeout  = 8 * time.Minute
	DefaultPollInterval = 60 * time.Second

	keySessionID    = "sid"
	keyIsAdmin      = "isAdmin"
	keyLastActivity = "lastActivity"
)

const (
	ReasonNoSession = "No session"
	ReasonExpired   = "Session expired due to inactivity"
	ReasonInvalid   = "Invalid session data"
)

var ErrNoSession = errors.New("no_session")

// Status is the outcome of Validate.
type Status struct {
	Valid        bool      `json:"valid"`
	Reason       string    `json:"reason,omitempty"`
	SessionID    string    `json:"-"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
}

type Options struct {
	IdleTimeout  time.Duration
	PollInterval time.Duration
	Secure       bool
	Now          func() time.Time
	Metrics      *metrics.Metrics
	// OnActivity runs after every successful Touch.
	OnActivity func(sessionID string, at time.Time)
}

// Manager wraps gorilla/sessions for the admin cookie.
type Manager struct {
	store      *sessions.CookieStore
	idle       time.Duration
	poll       time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	onActivity func(string, time.Time)
	log        logrus.FieldLogger
}

// NewManager derives the cookie signing and encryption keys from secret.
func NewManager(secret []byte, opts Options, log logrus.FieldLogger) *Manager {
	hashKey := sha256.Sum256(append([]byte("admin-session-hash:"), secret...))
	blockKey := sha256.Sum256(append([]byte("admin-session-block:"), secret...))
	store := sessions.NewCookieStore(hashKey[:], blockKey[:])

	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(opts.IdleTimeout / time.Second),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{
		store:      store,
		idle:       opts.IdleTimeout,
		poll:       opts.PollInterval,
		now:        opts.Now,
		metrics:    opts.Metrics,
		onActivity: opts.OnActivity,
		log:        log.WithField("component", "session"),
	}
}

func (m *Manager) IdleTimeout() time.Duration  { return m.idle }
func (m *Manager) PollInterval() time.Duration { return m.poll }

// SetOnActivity replaces the Touch hook.
func (m *Manager) SetOnActivity(fn func(sessionID string, at time.Time)) {
	m.onActivity = fn
}

// Start issues a fresh admin session, replacing any existing one.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request) (Status, error) {
	sess, _ := m.store.New(r, CookieName)
	now := m.now()
	sid := uuid.NewString()

	sess.Values[keySessionID] = sid
	sess.Values[keyIsAdmin] = true
	sess.Values[keyLastActivity] = now.UnixMilli()
	if err := sess.Save(r, w); err != nil {
		return Status{}, err
	}

	m.metrics.AdminSession("started")
	m.log.WithField("sid", sid).Info("admin session started")
	return Status{Valid: true, SessionID: sid, LastActivity: now}, nil
}

// Validate checks the session on r. An expired or unreadable session is
// deleted from the client as a side effect.
func (m *Manager) Validate(w http.ResponseWriter, r *http.Request) Status {
	sess, err := m.store.Get(r, CookieName)
	if err != nil {
		if _, cerr := r.Cookie(CookieName); cerr == nil {
			m.delete(w, r, sess)
			return Status{Reason: ReasonInvalid}
		}
		return Status{Reason: ReasonNoSession}
	}
	if sess.IsNew {
		return Status{Reason: ReasonNoSession}
	}

	sid, _ := sess.Values[keySessionID].(string)
	isAdmin, okAdmin := sess.Values[keyIsAdmin].(bool)
	lastMs, okLast := sess.Values[keyLastActivity].(int64)
	if !okAdmin || !isAdmin || !okLast {
		m.delete(w, r, sess)
		return Status{Reason: ReasonInvalid}
	}

	last := time.UnixMilli(lastMs).UTC()
	if m.Expired(last) {
		m.delete(w, r, sess)
		m.metrics.AdminSession("expired")
		m.log.WithField("sid", sid).Info("admin session expired")
		return Status{Reason: ReasonExpired, SessionID: sid, LastActivity: last}
	}
	return Status{Valid: true, SessionID: sid, LastActivity: last}
}

// Expired reports whether an idle period starting at last has run out.
func (m *Manager) Expired(last time.Time) bool {
	return m.now().Sub(last) > m.idle
}

// Touch slides the idle window. It is safe to call repeatedly.
func (m *Manager) Touch(w http.ResponseWriter, r *http.Request) (Status, error) {
	st := m.Validate(w, r)
	if !st.Valid {
		return st, ErrNoSession
	}

	sess, err := m.store.Get(r, CookieName)
	if err != nil {
		return Status{Reason: ReasonInvalid}, ErrNoSession
	}
	now := m.now()
	sess.Values[keyLastActivity] = now.UnixMilli()
	if err := sess.Save(r, w); err != nil {
		return st, err
	}

	st.LastActivity = now
	if m.onActivity != nil {
		m.onActivity(st.SessionID, now)
	}
	return st, nil
}

// End deletes the session cookie.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) {
	sess, _ := m.store.Get(r, CookieName)
	if sess == nil || sess.IsNew {
		return
	}
	m.delete(w, r, sess)
	m.metrics.AdminSession("ended")
}

func (m *Manager) delete(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	if sess == nil {
		sess = sessions.NewSession(m.store, CookieName)
	}
	opts := *m.store.Options
	opts.MaxAge = -1
	sess.Options = &opts
	if err := sess.Save(r, w); err != nil {
		m.log.WithError(err).Warn("delete admin session cookie")
	}
}
