// Package backend defines the adapter contract every inference engine
// implements, plus the helpers shared by the HTTP-based adapters.
//
// Two streaming shapes exist behind the one contract: native streaming
// (the backend yields increments itself) and simulated streaming (the
// backend only supports blocking calls; the adapter re-chunks the full
// response). Simulated adapters report Simulated() == true so their
// synthetic timing never gets mistaken for real backend latency.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/talentai/llm-gateway/internal/domain"
)

// Kind identifies one backend technology. Kinds form a closed set
// resolved to concrete adapters at startup.
type Kind string

const (
	KindOllama    Kind = "ollama"
	KindONNXGenAI Kind = "onnx-genai"
	KindONNX      Kind = "onnx"
	KindBedrock   Kind = "bedrock"
)

// ParseKind validates a backend name from configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOllama, KindONNXGenAI, KindONNX, KindBedrock:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown backend kind %q", s)
}

// Device selects the execution provider for embedded runtimes.
type Device string

const (
	DeviceCPU      Device = "cpu"
	DeviceCUDA     Device = "cuda"
	DeviceDirectML Device = "directml"
)

func ParseDevice(s string) (Device, error) {
	switch Device(s) {
	case DeviceCPU, DeviceCUDA, DeviceDirectML:
		return Device(s), nil
	case "":
		return DeviceCPU, nil
	}
	return "", fmt.Errorf("unknown device %q", s)
}

// Adapter translates the unified request shape into one backend's call
// convention. Adapters never retry; retry policy belongs to the caller.
//
// Stream returns an unbuffered event channel: the adapter blocks until
// the consumer takes each event, which is how client backpressure
// propagates into the backend read loop. The sequence is finite and
// not restartable; both channels close when it ends. The error channel
// carries at most one error.
type Adapter interface {
	ID() string
	Kind() Kind

	// Simulated reports whether Stream re-chunks a blocking call
	// instead of forwarding native backend increments.
	Simulated() bool

	// HealthCheck probes reachability. The caller bounds it with a
	// short context deadline; failures are reported, never fatal.
	HealthCheck(ctx context.Context) error

	Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error)
	Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.TokenEvent, <-chan error)
}

// WrapTransport classifies a transport-level failure from an HTTP or
// SDK call into the gateway error taxonomy.
func WrapTransport(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrRequestTimeout, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
}

// WrapStatus classifies a non-200 backend reply. A 4xx means the
// backend understood and refused the request; anything else counts as
// unavailable.
func WrapStatus(status int, body []byte) error {
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: status=%d body=%s", domain.ErrBackendRejected, status, truncate(body, 512))
	}
	return fmt.Errorf("%w: status=%d body=%s", domain.ErrBackendUnavailable, status, truncate(body, 512))
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
