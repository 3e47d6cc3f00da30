package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"session-service/internal/util"
)

// ExpiryReason explains why a session expired.
type ExpiryReason string

const (
	ReasonIdleTimeout     ExpiryReason = "idle-timeout"
	ReasonAbsoluteTimeout ExpiryReason = "absolute-timeout"
)

// Unsubscribe removes a previously registered handler. Calling it more than
// once is a no-op.
type Unsubscribe func()

// events is the controller's typed publish/subscribe surface. Every On*
// registration returns its own disposer. Handlers are invoked synchronously;
// a panicking handler is recovered and logged so one faulty subscriber cannot
// break the controller loop.
type events struct {
	mu          sync.Mutex
	created     map[string]func(sessionID string)
	activity    map[string]func(now, previous time.Time)
	warning     map[string]func(remainingMinutes int)
	expired     map[string]func(reason ExpiryReason)
	regenerated map[string]func(oldID, newID string)
	invalidated map[string]func()
}

func newEvents() *events {
	return &events{
		created:     make(map[string]func(sessionID string)),
		activity:    make(map[string]func(now, previous time.Time)),
		warning:     make(map[string]func(remainingMinutes int)),
		expired:     make(map[string]func(reason ExpiryReason)),
		regenerated: make(map[string]func(oldID, newID string)),
		invalidated: make(map[string]func()),
	}
}

func (e *events) onCreated(fn func(sessionID string)) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	e.created[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.created, id)
	}
}

func (e *events) onActivity(fn func(now, previous time.Time)) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	e.activity[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.activity, id)
	}
}

func (e *events) onWarning(fn func(remainingMinutes int)) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	e.warning[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.warning, id)
	}
}

func (e *events) onExpired(fn func(reason ExpiryReason)) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	e.expired[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.expired, id)
	}
}

func (e *events) onRegenerated(fn func(oldID, newID string)) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	e.regenerated[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.regenerated, id)
	}
}

func (e *events) onInvalidated(fn func()) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.NewString()
	e.invalidated[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.invalidated, id)
	}
}

func (e *events) emitCreated(sessionID string) {
	e.mu.Lock()
	handlers := make([]func(string), 0, len(e.created))
	for _, fn := range e.created {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()
	for _, fn := range handlers {
		safeInvoke("created", func() { fn(sessionID) })
	}
}

func (e *events) emitActivity(now, previous time.Time) {
	for _, fn := range e.activityHandlers() {
		safeInvoke("activity", func() { fn(now, previous) })
	}
}

func (e *events) emitWarning(remainingMinutes int) {
	e.mu.Lock()
	handlers := make([]func(int), 0, len(e.warning))
	for _, fn := range e.warning {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()
	for _, fn := range handlers {
		safeInvoke("warning", func() { fn(remainingMinutes) })
	}
}

func (e *events) emitExpired(reason ExpiryReason) {
	e.mu.Lock()
	handlers := make([]func(ExpiryReason), 0, len(e.expired))
	for _, fn := range e.expired {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()
	for _, fn := range handlers {
		safeInvoke("expired", func() { fn(reason) })
	}
}

func (e *events) emitRegenerated(oldID, newID string) {
	e.mu.Lock()
	handlers := make([]func(string, string), 0, len(e.regenerated))
	for _, fn := range e.regenerated {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()
	for _, fn := range handlers {
		safeInvoke("regenerated", func() { fn(oldID, newID) })
	}
}

func (e *events) emitInvalidated() {
	e.mu.Lock()
	handlers := make([]func(), 0, len(e.invalidated))
	for _, fn := range e.invalidated {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()
	for _, fn := range handlers {
		safeInvoke("invalidated", fn)
	}
}

func (e *events) activityHandlers() []func(now, previous time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	handlers := make([]func(now, previous time.Time), 0, len(e.activity))
	for _, fn := range e.activity {
		handlers = append(handlers, fn)
	}
	return handlers
}

func safeInvoke(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("session event handler panicked",
				util.String("event", event),
				util.Any("panic", r))
		}
	}()
	fn()
}
