package service

import (
	"sync"
	"time"
)

// Session change kinds.
const (
	SessionSaved   = "saved"
	SessionCleared = "cleared"
	// SessionSettled means a sign-in attempt ended, whether or not it
	// changed the stored session.
	SessionSettled = "settled"
)

// SessionEvent tells subscribers that the session under Key changed.
// It carries no session data: subscribers re-load, so they always see the
// latest write even if they missed an event.
type SessionEvent struct {
	Key  string    `json:"-"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// subscriberBuffer is how many events a slow subscriber may fall behind
// before further events are dropped for it.
const subscriberBuffer = 8

// SessionEvents is an in-process fan-out of session changes, keyed by
// browser key. It is how one open tab learns that another tab signed in or
// out: the SSE handler subscribes for its browser key and forwards events.
//
// Delivery is best effort and never blocks the publisher. Dropping an event
// is harmless because the next event (or a reload) triggers the same re-read.
type SessionEvents struct {
	mu   sync.Mutex
	subs map[string]map[chan SessionEvent]struct{}
}

// NewSessionEvents creates an empty broker.
func NewSessionEvents() *SessionEvents {
	return &SessionEvents{subs: make(map[string]map[chan SessionEvent]struct{})}
}

// Subscribe returns a channel of events for key and a cancel func that
// unsubscribes and closes the channel. cancel is safe to call more than once.
func (e *SessionEvents) Subscribe(key string) (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, subscriberBuffer)

	e.mu.Lock()
	if e.subs[key] == nil {
		e.subs[key] = make(map[chan SessionEvent]struct{})
	}
	e.subs[key][ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.subs[key], ch)
			if len(e.subs[key]) == 0 {
				delete(e.subs, key)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of ev.Key without blocking.
func (e *SessionEvents) Publish(ev SessionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ch := range e.subs[ev.Key] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns how many subscribers key has.
func (e *SessionEvents) Subscribers(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs[key])
}
