package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrExpired = errors.New("session_expired")

// Watcher is the server side of the idle poll: it tracks the last activity
// of one session and checks it on every tick.
type Watcher struct {
	mgr *Manager

	mu   sync.Mutex
	last time.Time
}

func (m *Manager) NewWatcher(st Status) *Watcher {
	return &Watcher{mgr: m, last: st.LastActivity}
}

// Seen records activity reported elsewhere, such as a Touch from another
// request of the same session.
func (w *Watcher) Seen(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if at.After(w.last) {
		w.last = at
	}
}

func (w *Watcher) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) Expired() bool {
	return w.mgr.Expired(w.LastActivity())
}

// Run polls every interval until ctx ends (nil) or the session goes idle
// for longer than the timeout (ErrExpired). Activity times received on
// activity are folded in before each check.
func (w *Watcher) Run(ctx context.Context, interval time.Duration, activity <-chan time.Time) error {
	if interval <= 0 {
		interval = w.mgr.PollInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case at, ok := <-activity:
			if !ok {
				activity = nil
				continue
			}
			w.Seen(at)
		case <-ticker.C:
			if w.Expired() {
				w.mgr.metrics.AdminSession("expired")
				return ErrExpired
			}
		}
	}
}
