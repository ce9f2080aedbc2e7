package identity

import (
	"context"
	"log/slog"
	"sync"
)

// SessionKind distinguishes login from logout events
type SessionKind string

const (
	SessionLogin  SessionKind = "login"
	SessionLogout SessionKind = "logout"
)

// SessionEvent describes a login or logout. Method and Path name the flow that
// raised it, which is not necessarily an HTTP request.
type SessionEvent struct {
	Kind      SessionKind
	UserID    string
	Method    string
	Path      string
	ClientIP  string
	UserAgent string
}

// Observer is called synchronously for every emitted event
type Observer func(ctx context.Context, ev SessionEvent)

// Events is a registry of session observers
type Events struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEvents creates an empty registry
func NewEvents() *Events {
	return &Events{}
}

// Subscribe adds an observer
func (e *Events) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Emit delivers ev to every observer in subscription order. A panicking observer
// is logged and skipped.
func (e *Events) Emit(ctx context.Context, ev SessionEvent) {
	e.mu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("session observer panicked", "kind", ev.Kind, "panic", r)
				}
			}()
			o(ctx, ev)
		}()
	}
}
