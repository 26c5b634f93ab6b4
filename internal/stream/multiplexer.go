// Package stream drives one adapter token sequence over Server-Sent
// Events for the lifetime of one request.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/talentai/llm-gateway/internal/domain"
	"github.com/talentai/llm-gateway/internal/metrics"
)

// Multiplexer forwards each token event to the client transport and to
// the metrics recorder in the same step, so no token is ever recorded
// without being delivered or delivered without being recorded. It
// writes exactly one terminal frame per stream: the done frame with
// the metrics snapshot on exhaustion, or one error frame on an adapter
// failure. On client cancellation it writes nothing further.
type Multiplexer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rec     *metrics.Recorder
	content strings.Builder
}

// New prepares an SSE multiplexer over w. It fails when the transport
// cannot flush frames individually.
func New(w http.ResponseWriter, rec *metrics.Recorder) (*Multiplexer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Multiplexer{w: w, flusher: flusher, rec: rec}, nil
}

// Content returns the accumulated response text, available after Run.
func (m *Multiplexer) Content() string {
	return m.content.String()
}

// Run consumes the adapter's channels until exhaustion, error, or
// context cancellation. It returns the snapshot written in the done
// frame, or a nil snapshot with the error that terminated the stream.
// Context cancellation returns ctx.Err(); the caller treats that as a
// normal client-initiated termination, not a failure.
func (m *Multiplexer) Run(ctx context.Context, events <-chan domain.TokenEvent, errs <-chan error) (*domain.MetricsSnapshot, error) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// The producer closes errs before events, so a
				// pending error is observable here without blocking.
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						m.writeErrorFrame(err)
						return nil, err
					}
				default:
				}
				snap := m.rec.Snapshot()
				m.writeFrame(domain.StreamFrame{
					Done:    true,
					Token:   domain.DoneToken,
					Metrics: snap,
				})
				return snap, nil
			}

			if ev.Usage != nil && ev.Text == "" {
				m.rec.Observe(ev)
				continue
			}

			if err := m.writeFrame(domain.StreamFrame{Token: ev.Text}); err != nil {
				// The client transport is gone; stop pulling so the
				// adapter can release the backend stream.
				return nil, err
			}
			m.rec.Observe(ev)
			m.content.WriteString(ev.Text)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				m.writeErrorFrame(err)
				return nil, err
			}

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// The overall request deadline fired while the client
				// is still connected; it gets an error frame.
				m.writeErrorFrame(domain.ErrRequestTimeout)
				return nil, domain.ErrRequestTimeout
			}
			return nil, ctx.Err()
		}
	}
}

func (m *Multiplexer) writeFrame(frame domain.StreamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(m.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	m.flusher.Flush()
	return nil
}

func (m *Multiplexer) writeErrorFrame(err error) {
	m.writeFrame(domain.StreamFrame{Error: err.Error()})
}
