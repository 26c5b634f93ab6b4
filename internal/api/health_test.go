package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/notifications"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (c *captureNotifier) Notify(ctx context.Context, ev notifications.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureNotifier) captured() []notifications.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifications.Event(nil), c.events...)
}

func TestReportNotifiesOnTransitionsOnly(t *testing.T) {
	var healthErr error
	var mu sync.Mutex
	adapter := &mockAdapter{
		id:   "ollama",
		kind: backend.KindOllama,
		healthFunc: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return healthErr
		},
	}
	setHealth := func(err error) {
		mu.Lock()
		healthErr = err
		mu.Unlock()
	}

	notifier := &captureNotifier{}
	hr := NewHealthReporter([]backend.Adapter{adapter}, time.Second, notifier)
	ctx := context.Background()

	// Healthy first observation: no event.
	hr.Report(ctx)
	if got := notifier.captured(); len(got) != 0 {
		t.Fatalf("events after healthy start = %v, want none", got)
	}

	// Down edge fires once, steady down stays quiet.
	setHealth(errors.New("connection refused"))
	hr.Report(ctx)
	hr.Report(ctx)
	got := notifier.captured()
	if len(got) != 1 || got[0].Type != notifications.EventBackendDown {
		t.Fatalf("events after outage = %v, want single backend_down", got)
	}

	// Recovery edge fires once.
	setHealth(nil)
	hr.Report(ctx)
	hr.Report(ctx)
	got = notifier.captured()
	if len(got) != 2 || got[1].Type != notifications.EventBackendUp {
		t.Fatalf("events after recovery = %v, want backend_down then backend_up", got)
	}
}

func TestReportDownOnFirstObservationNotifies(t *testing.T) {
	adapter := &mockAdapter{
		id:   "onnx",
		kind: backend.KindONNX,
		healthFunc: func(ctx context.Context) error {
			return errors.New("dial tcp: connection refused")
		},
	}

	notifier := &captureNotifier{}
	hr := NewHealthReporter([]backend.Adapter{adapter}, time.Second, notifier)
	hr.Report(context.Background())

	got := notifier.captured()
	if len(got) != 1 || got[0].Type != notifications.EventBackendDown {
		t.Fatalf("events = %v, want backend_down on first observation", got)
	}
	if got[0].Backend != "onnx" {
		t.Errorf("event backend = %q", got[0].Backend)
	}
}

func TestReportProbesRunUnderTimeout(t *testing.T) {
	adapter := &mockAdapter{
		id:   "ollama",
		kind: backend.KindOllama,
		healthFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	hr := NewHealthReporter([]backend.Adapter{adapter}, 20*time.Millisecond, nil)

	start := time.Now()
	status := hr.Report(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Report took %v, probe timeout not applied", elapsed)
	}
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded for hung backend", status.Status)
	}
}
