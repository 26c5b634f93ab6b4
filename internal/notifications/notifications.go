// Package notifications publishes backend reachability transitions so
// operators hear about a dead inference backend before users do.
package notifications

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventBackendDown EventType = "backend_down"
	EventBackendUp   EventType = "backend_up"
)

type Event struct {
	Type      EventType `json:"type"`
	Backend   string    `json:"backend"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivery is best-effort: implementations log failures and
// never surface them to the health path.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier is the fallback when no delivery channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event Event) {
	slog.Warn("backend state change",
		"type", string(event.Type),
		"backend", event.Backend,
		"message", event.Message,
	)
}
