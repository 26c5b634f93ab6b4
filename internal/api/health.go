package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/metrics"
	"github.com/talentai/llm-gateway/internal/notifications"
)

// HealthStatus aggregates per-backend reachability. A single
// unreachable backend degrades the overall status without failing the
// check or blocking the probes of the other backends.
type HealthStatus struct {
	Status   string                   `json:"status"`
	Backends map[string]BackendHealth `json:"backends"`
}

type BackendHealth struct {
	Reachable bool   `json:"reachable"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`

	// Simulated flags backends whose streaming is re-chunked from
	// blocking calls, so dashboards don't read their timing as real.
	Simulated bool `json:"simulated_streaming,omitempty"`
}

// HealthReporter probes every configured adapter concurrently, each
// under its own short timeout. Probing never raises; failures only
// show up as reachable=false.
type HealthReporter struct {
	adapters []backend.Adapter
	timeout  time.Duration
	notifier notifications.Notifier

	mu     sync.Mutex
	lastUp map[string]bool
}

func NewHealthReporter(adapters []backend.Adapter, timeout time.Duration, notifier notifications.Notifier) *HealthReporter {
	if notifier == nil {
		notifier = notifications.LogNotifier{}
	}
	return &HealthReporter{
		adapters: adapters,
		timeout:  timeout,
		notifier: notifier,
		lastUp:   make(map[string]bool),
	}
}

func (hr *HealthReporter) Report(ctx context.Context) HealthStatus {
	type result struct {
		id     string
		health BackendHealth
	}

	results := make([]result, len(hr.adapters))

	var wg sync.WaitGroup
	for i, adapter := range hr.adapters {
		wg.Add(1)
		go func(i int, adapter backend.Adapter) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, hr.timeout)
			defer cancel()

			start := time.Now()
			err := adapter.HealthCheck(checkCtx)
			health := BackendHealth{
				Reachable: err == nil,
				LatencyMs: time.Since(start).Milliseconds(),
				Simulated: adapter.Simulated(),
			}
			if err != nil {
				health.Error = err.Error()
			}
			results[i] = result{id: adapter.ID(), health: health}
		}(i, adapter)
	}
	wg.Wait()

	status := HealthStatus{
		Status:   "ok",
		Backends: make(map[string]BackendHealth, len(results)),
	}
	for _, res := range results {
		status.Backends[res.id] = res.health
		metrics.SetBackendUp(res.id, res.health.Reachable)
		if !res.health.Reachable {
			status.Status = "degraded"
		}
		hr.notifyTransition(ctx, res.id, res.health)
	}

	return status
}

// notifyTransition publishes up/down edges, not steady states.
func (hr *HealthReporter) notifyTransition(ctx context.Context, id string, health BackendHealth) {
	hr.mu.Lock()
	prev, seen := hr.lastUp[id]
	hr.lastUp[id] = health.Reachable
	hr.mu.Unlock()

	switch {
	case !health.Reachable && (!seen || prev):
		hr.notifier.Notify(ctx, notifications.Event{
			Type:      notifications.EventBackendDown,
			Backend:   id,
			Message:   fmt.Sprintf("backend %s unreachable: %s", id, health.Error),
			Timestamp: time.Now(),
		})
	case health.Reachable && seen && !prev:
		hr.notifier.Notify(ctx, notifications.Event{
			Type:      notifications.EventBackendUp,
			Backend:   id,
			Message:   fmt.Sprintf("backend %s reachable again", id),
			Timestamp: time.Now(),
		})
	}
}
