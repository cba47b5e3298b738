package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	logger, _ := test.NewNullLogger()
	return NewManager([]byte("test-secret"), Options{Now: c.now}, logger), c
}

// roundTrip runs fn against a request carrying cookie and returns the
// cookie the response leaves behind.
func roundTrip(cookie *http.Cookie, fn func(w http.ResponseWriter, r *http.Request)) *http.Cookie {
	r := httptest.NewRequest(http.MethodGet, "/admin/session", nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	fn(rr, r)
	for _, c := range rr.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return cookie
}

func start(t *testing.T, m *Manager) *http.Cookie {
	t.Helper()
	return roundTrip(nil, func(w http.ResponseWriter, r *http.Request) {
		st, err := m.Start(w, r)
		require.NoError(t, err)
		require.True(t, st.Valid)
	})
}

func validate(m *Manager, cookie *http.Cookie) (Status, *http.Cookie) {
	var st Status
	next := roundTrip(cookie, func(w http.ResponseWriter, r *http.Request) {
		st = m.Validate(w, r)
	})
	return st, next
}

func TestStartSetsCookieAttributes(t *testing.T) {
	m, _ := newTestManager(t)
	c := start(t, m)

	assert.Equal(t, CookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 480, c.MaxAge)
}

func TestIdleTimeout(t *testing.T) {
	m, c := newTestManager(t)
	cookie := start(t, m)

	c.advance(7 * time.Minute)
	st, _ := validate(m, cookie)
	assert.True(t, st.Valid)

	c.advance(2 * time.Minute)
	st, next := validate(m, cookie)
	assert.False(t, st.Valid)
	assert.Equal(t, ReasonExpired, st.Reason)
	assert.Equal(t, -1, next.MaxAge)
}

func TestTouchSlidesWindow(t *testing.T) {
	m, c := newTestManager(t)
	cookie := start(t, m)

	var touched []time.Time
	m.SetOnActivity(func(_ string, at time.Time) { touched = append(touched, at) })

	c.advance(7 * time.Minute)
	cookie = roundTrip(cookie, func(w http.ResponseWriter, r *http.Request) {
		_, err := m.Touch(w, r)
		require.NoError(t, err)
	})
	// Redundant touches are harmless.
	cookie = roundTrip(cookie, func(w http.ResponseWriter, r *http.Request) {
		_, err := m.Touch(w, r)
		require.NoError(t, err)
	})
	require.Len(t, touched, 2)

	c.advance(7 * time.Minute)
	st, _ := validate(m, cookie)
	assert.True(t, st.Valid)
	assert.Equal(t, c.now().Add(-7*time.Minute), st.LastActivity)
}

func TestTouchWithoutSession(t *testing.T) {
	m, c := newTestManager(t)

	roundTrip(nil, func(w http.ResponseWriter, r *http.Request) {
		_, err := m.Touch(w, r)
		assert.ErrorIs(t, err, ErrNoSession)
	})

	cookie := start(t, m)
	c.advance(9 * time.Minute)
	roundTrip(cookie, func(w http.ResponseWriter, r *http.Request) {
		_, err := m.Touch(w, r)
		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestValidateReasons(t *testing.T) {
	m, _ := newTestManager(t)

	st, _ := validate(m, nil)
	assert.Equal(t, ReasonNoSession, st.Reason)

	st, _ = validate(m, &http.Cookie{Name: CookieName, Value: "garbage"})
	assert.Equal(t, ReasonInvalid, st.Reason)

	// A cookie signed with another secret is unreadable.
	logger, _ := test.NewNullLogger()
	other := NewManager([]byte("different"), Options{}, logger)
	st, _ = validate(m, start(t, other))
	assert.Equal(t, ReasonInvalid, st.Reason)
}

func TestEnd(t *testing.T) {
	m, _ := newTestManager(t)
	cookie := start(t, m)

	next := roundTrip(cookie, m.End)
	assert.Equal(t, -1, next.MaxAge)
}

func TestWatcherExpires(t *testing.T) {
	m, c := newTestManager(t)
	w := m.NewWatcher(Status{Valid: true, LastActivity: c.now()})

	activity := make(chan time.Time, 1)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), 5*time.Millisecond, activity) }()

	c.advance(7 * time.Minute)
	seen := c.now()
	activity <- seen
	require.Eventually(t, func() bool { return w.LastActivity().Equal(seen) }, time.Second, time.Millisecond)
	c.advance(7 * time.Minute)

	select {
	case err := <-done:
		t.Fatalf("watcher stopped early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	c.advance(2 * time.Minute)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrExpired)
	case <-time.After(time.Second):
		t.Fatal("watcher did not notice expiry")
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	m, c := newTestManager(t)
	w := m.NewWatcher(Status{LastActivity: c.now()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, w.Run(ctx, time.Hour, nil))
}

func TestStaticAdmin(t *testing.T) {
	a := NewStaticAdmin("root", "hunter2", "")

	assert.True(t, a.Matches("ROOT"))
	assert.True(t, a.Matches("Admin"))
	assert.False(t, a.Matches("alice"))

	assert.True(t, a.Authenticate("root", "hunter2", ""))
	assert.True(t, a.Authenticate("admin", "hunter2", ""))
	assert.False(t, a.Authenticate("root", "hunter3", ""))
	assert.False(t, a.Authenticate("alice", "hunter2", ""))

	disabled := NewStaticAdmin("", "", "")
	assert.True(t, disabled.Matches("admin"))
	assert.False(t, disabled.Authenticate("admin", "", ""))
}

func TestStaticAdminTOTP(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	a := NewStaticAdmin("admin", "hunter2", secret)
	a.now = func() time.Time { return now }

	code, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)

	assert.True(t, a.Authenticate("admin", "hunter2", code))
	assert.False(t, a.Authenticate("admin", "hunter2", ""))
	assert.False(t, a.Authenticate("admin", "wrong", code))
}
