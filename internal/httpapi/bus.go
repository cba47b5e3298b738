package httpapi

import (
	"sync"
	"time"
)

const (
	EventAccounts = "accounts"
	EventNotice   = "notice"
	EventActivity = "activity"
	EventUpdate   = "update"
)

type busEvent struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`

	sessionID string
}

type subscriber struct {
	ch        chan busEvent
	sessionID string
}

// eventBus fans admin events out to open streams. Events with a session ID
// only reach that session's streams.
type eventBus struct {
	mu   sync.Mutex
	subs map[chan busEvent]subscriber
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[chan busEvent]subscriber)}
}

func (b *eventBus) Subscribe(sessionID string) chan busEvent {
	ch := make(chan busEvent, 32)
	b.mu.Lock()
	b.subs[ch] = subscriber{ch: ch, sessionID: sessionID}
	b.mu.Unlock()
	return ch
}

func (b *eventBus) Unsubscribe(ch chan busEvent) {
	if ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *eventBus) Publish(typ string, data any) {
	b.publish(busEvent{Type: typ, Time: time.Now().UTC(), Data: data})
}

// PublishTo delivers an event only to streams of sessionID.
func (b *eventBus) PublishTo(sessionID, typ string, at time.Time) {
	b.publish(busEvent{Type: typ, Time: at, sessionID: sessionID})
}

func (b *eventBus) publish(ev busEvent) {
	if ev.Type == "" {
		ev.Type = EventUpdate
	}

	b.mu.Lock()
	for _, sub := range b.subs {
		if ev.sessionID == "" || sub.sessionID == ev.sessionID {
			select {
			case sub.ch <- ev:
			default:
				// drop if subscriber is slow
			}
		}
	}
	b.mu.Unlock()
}
