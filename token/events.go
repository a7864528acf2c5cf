package token

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Observer is notified after a successful refresh (with the new token) or a
// successful revoke (with the token that was revoked).
type Observer func(ctx context.Context, t Token) error

// Event identifies which observer list a subscription belongs to.
type Event string

const (
	EventRefreshed Event = "refreshed"
	EventRevoked   Event = "revoked"
)

// Subscription is the handle returned when registering an observer.
type Subscription struct {
	ID       string
	Event    Event
	notifier *Notifier
}

// Cancel removes the observer. Calling it more than once is a no-op.
func (s *Subscription) Cancel() {
	if s == nil || s.notifier == nil {
		return
	}
	s.notifier.remove(s.Event, s.ID)
}

type registration struct {
	id       string
	observer Observer
}

// Notifier keeps an ordered observer list per event.
type Notifier struct {
	mu        sync.RWMutex
	observers map[Event][]registration
}

func NewNotifier() *Notifier {
	return &Notifier{observers: make(map[Event][]registration)}
}

// Subscribe appends o to the observers of event.
func (n *Notifier) Subscribe(event Event, o Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := uuid.NewString()
	n.observers[event] = append(n.observers[event], registration{id: id, observer: o})
	return &Subscription{ID: id, Event: event, notifier: n}
}

func (n *Notifier) remove(event Event, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers[event] = slices.DeleteFunc(n.observers[event], func(r registration) bool {
		return r.id == id
	})
}

// Notify calls every observer of event in registration order. A failing
// observer does not stop the ones after it; all errors are joined.
func (n *Notifier) Notify(ctx context.Context, event Event, t Token) error {
	n.mu.RLock()
	regs := slices.Clone(n.observers[event])
	n.mu.RUnlock()

	var errs []error
	for _, r := range regs {
		if err := r.observer(ctx, *t.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
