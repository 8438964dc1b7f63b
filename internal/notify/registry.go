// internal/notify/registry.go
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/pilotsync/internal/types"
)

// Event kinds published by the hub.
const (
	KindStepClick      = "step.click"
	KindStepDispatched = "step.dispatched"
	KindSessionSwitch  = "session.switch"
	KindDispatchError  = "dispatch.error"
	KindFetchError     = "fetch.error"
)

// Event is a host notification about a watched canvas.
type Event struct {
	Kind      string          `json:"kind"`
	CanvasID  types.CanvasID  `json:"canvas_id"`
	SessionID types.SessionID `json:"session_id,omitempty"`
	StepID    types.StepID    `json:"step_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	At        time.Time       `json:"at"`
}

// Handler receives events.
type Handler func(Event) error

type subscription struct {
	prefix  string
	handler Handler
}

// Registry routes events to handlers based on event kind prefix (e.g.
// "step.", "dispatch.error"). An empty prefix matches every event.
type Registry struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewRegistry creates an empty notification registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe adds a handler for event kinds starting with prefix. Handlers run
// in subscription order.
func (r *Registry) Subscribe(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, subscription{prefix: prefix, handler: handler})
}

// Publish calls every handler whose prefix matches the event kind. An event
// nobody subscribed to is dropped. Handler errors are joined and returned
// after all handlers ran.
func (r *Registry) Publish(event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	r.mu.RLock()
	subs := append([]subscription(nil), r.subs...)
	r.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if !strings.HasPrefix(event.Kind, sub.prefix) {
			continue
		}
		if err := sub.handler(event); err != nil {
			errs = append(errs, fmt.Errorf("deliver %s: %w", event.Kind, err))
		}
	}
	return errors.Join(errs...)
}

// LogHandler writes events to the default logger. Errors are logged at warn.
func LogHandler(event Event) error {
	attrs := []any{
		"kind", event.Kind,
		"canvas_id", string(event.CanvasID),
		"session_id", string(event.SessionID),
	}
	if event.StepID != "" {
		attrs = append(attrs, "step_id", string(event.StepID))
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	if strings.HasSuffix(event.Kind, ".error") {
		slog.Warn("notification", attrs...)
	} else {
		slog.Info("notification", attrs...)
	}
	return nil
}
