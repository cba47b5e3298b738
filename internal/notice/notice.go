// Package notice keeps operator-facing notices: undelivered verification
// codes and store inconsistencies that need a human.
package notice

import (
	"sync"
	"time"
)

const DefaultCooldown = 5 * time.Minute

const (
	TypeDeliveryFailed = "delivery_failed"
	TypeInconsistency  = "inconsistency"
)

type Notice struct {
	Key       string         `json:"key"` // "subject:type"
	Type      string         `json:"type"`
	Subject   string         `json:"subject"` // email or account id
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func Key(subject, typ string) string {
	return subject + ":" + typ
}

// Tracker stores active notices and rate-limits how often the same key is
// announced to listeners.
type Tracker struct {
	mu       sync.Mutex
	sent     map[string]time.Time
	items    []Notice
	cooldown time.Duration
	now      func() time.Time
	onRaise  func(Notice)
}

func NewTracker(cooldown time.Duration) *Tracker {
	return &Tracker{
		sent:     make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// SetClock replaces the clock used for cooldowns and timestamps.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// OnRaise registers fn to run for every announced notice. fn runs outside
// the tracker lock.
func (t *Tracker) OnRaise(fn func(Notice)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRaise = fn
}

// Raise stores n, replacing any notice with the same key. It reports
// whether listeners were told, which happens at most once per cooldown.
func (t *Tracker) Raise(n Notice) bool {
	t.mu.Lock()
	now := t.now()
	n.Key = Key(n.Subject, n.Type)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}

	replaced := false
	for i, existing := range t.items {
		if existing.Key == n.Key {
			t.items[i] = n
			replaced = true
			break
		}
	}
	if !replaced {
		t.items = append(t.items, n)
	}

	announce := true
	if last, ok := t.sent[n.Key]; ok && now.Sub(last) < t.cooldown {
		announce = false
	} else {
		t.sent[n.Key] = now
	}
	hook := t.onRaise
	t.mu.Unlock()

	if announce && hook != nil {
		hook(n)
	}
	return announce
}

// List returns a copy of every stored notice, oldest first.
func (t *Tracker) List() []Notice {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Notice, len(t.items))
	copy(out, t.items)
	return out
}

// Dismiss removes a notice and clears its cooldown.
func (t *Tracker) Dismiss(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sent, key)
	for i, item := range t.items {
		if item.Key == key {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops the notice for subject and type if present. Used once the
// condition resolves on its own, e.g. the code was verified anyway.
func (t *Tracker) Clear(subject, typ string) {
	t.Dismiss(Key(subject, typ))
}
