package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/talentai/llm-gateway/internal/domain"
	"github.com/talentai/llm-gateway/internal/metrics"
)

// feed mimics an adapter goroutine: it pushes the given events, then
// an optional error, then closes both channels in producer order.
func feed(ctx context.Context, events []domain.TokenEvent, err error) (<-chan domain.TokenEvent, <-chan error) {
	out := make(chan domain.TokenEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func parseFrames(t *testing.T, body string) []domain.StreamFrame {
	t.Helper()
	var frames []domain.StreamFrame
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame domain.StreamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("unparseable frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func tokenEvents(texts ...string) []domain.TokenEvent {
	events := make([]domain.TokenEvent, len(texts))
	for i, text := range texts {
		events[i] = domain.TokenEvent{Text: text, Timestamp: time.Now(), Tokens: 1}
	}
	return events
}

func TestRunForwardsTokensInOrderAndEndsWithDone(t *testing.T) {
	w := httptest.NewRecorder()
	rec := metrics.NewRecorder("m", true, false)
	mux, err := New(w, rec)
	if err != nil {
		t.Fatal(err)
	}

	events, errs := feed(context.Background(), tokenEvents("Hello", " there"), nil)
	snap, err := mux.Run(context.Background(), events, errs)
	if err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	frames := parseFrames(t, w.Body.String())
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if frames[0].Token != "Hello" || frames[1].Token != " there" {
		t.Errorf("token order = %q, %q", frames[0].Token, frames[1].Token)
	}

	final := frames[2]
	if !final.Done || final.Token != domain.DoneToken {
		t.Errorf("terminal frame = %+v, want done frame", final)
	}
	if final.Metrics == nil {
		t.Fatal("terminal frame has no metrics")
	}
	if final.Metrics.OutputTokens == nil || *final.Metrics.OutputTokens != 2 {
		t.Errorf("output_tokens = %v, want 2", final.Metrics.OutputTokens)
	}
	if final.Metrics.TTFT == nil || *final.Metrics.TTFT < 0 {
		t.Error("terminal frame metrics missing ttft")
	}
	if snap == nil || snap.TotalLatency < 0 {
		t.Error("Run returned no snapshot")
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestRunAccumulatesContent(t *testing.T) {
	w := httptest.NewRecorder()
	mux, err := New(w, metrics.NewRecorder("m", true, false))
	if err != nil {
		t.Fatal(err)
	}

	events, errs := feed(context.Background(), tokenEvents("Hello", " there"), nil)
	if _, err := mux.Run(context.Background(), events, errs); err != nil {
		t.Fatal(err)
	}

	if got := mux.Content(); got != "Hello there" {
		t.Errorf("Content() = %q, want %q", got, "Hello there")
	}
}

func TestRunWritesSingleErrorFrameOnAdapterFailure(t *testing.T) {
	w := httptest.NewRecorder()
	mux, err := New(w, metrics.NewRecorder("m", true, false))
	if err != nil {
		t.Fatal(err)
	}

	backendErr := errors.New("backend exploded")
	events, errs := feed(context.Background(), tokenEvents("partial"), backendErr)

	_, runErr := mux.Run(context.Background(), events, errs)
	if !errors.Is(runErr, backendErr) {
		t.Fatalf("Run() = %v, want backend error", runErr)
	}

	frames := parseFrames(t, w.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want token + error frame", len(frames))
	}
	if frames[1].Error == "" {
		t.Errorf("terminal frame = %+v, want error frame", frames[1])
	}
	if frames[1].Done {
		t.Error("error frame must not be a done frame")
	}
}

func TestRunErrorBeforeAnyToken(t *testing.T) {
	w := httptest.NewRecorder()
	mux, err := New(w, metrics.NewRecorder("m", true, false))
	if err != nil {
		t.Fatal(err)
	}

	backendErr := domain.ErrBackendUnavailable
	events, errs := feed(context.Background(), nil, backendErr)

	_, runErr := mux.Run(context.Background(), events, errs)
	if !errors.Is(runErr, backendErr) {
		t.Fatalf("Run() = %v, want ErrBackendUnavailable", runErr)
	}

	frames := parseFrames(t, w.Body.String())
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 error frame", len(frames))
	}
	if frames[0].Error == "" || frames[0].Done {
		t.Errorf("frame = %+v, want pure error frame", frames[0])
	}
}

func TestRunStopsOnCancellationWithoutTerminalFrame(t *testing.T) {
	w := httptest.NewRecorder()
	mux, err := New(w, metrics.NewRecorder("m", true, false))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	events := make(chan domain.TokenEvent)
	errs := make(chan error, 1)
	adapterStopped := make(chan struct{})

	go func() {
		defer close(adapterStopped)
		defer close(events)
		defer close(errs)
		for i := 0; i < 10; i++ {
			select {
			case events <- domain.TokenEvent{Text: "tok", Timestamp: time.Now(), Tokens: 1}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Consume three tokens, then drop the client.
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, runErr := mux.Run(ctx, events, errs)
	if !errors.Is(runErr, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", runErr)
	}

	select {
	case <-adapterStopped:
	case <-time.After(time.Second):
		t.Fatal("adapter goroutine did not stop after cancellation")
	}

	frames := parseFrames(t, w.Body.String())
	for _, frame := range frames {
		if frame.Done || frame.Error != "" {
			t.Errorf("cancelled stream wrote terminal frame %+v", frame)
		}
	}
	if len(frames) >= 10 {
		t.Errorf("cancelled stream wrote %d frames, want fewer than 10", len(frames))
	}
}

func TestRunTimeoutWritesErrorFrame(t *testing.T) {
	w := httptest.NewRecorder()
	mux, err := New(w, metrics.NewRecorder("m", true, false))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// An adapter that never yields.
	events := make(chan domain.TokenEvent)
	errs := make(chan error, 1)

	_, runErr := mux.Run(ctx, events, errs)
	if !errors.Is(runErr, domain.ErrRequestTimeout) {
		t.Fatalf("Run() = %v, want ErrRequestTimeout", runErr)
	}

	frames := parseFrames(t, w.Body.String())
	if len(frames) != 1 || frames[0].Error == "" {
		t.Fatalf("frames = %+v, want single error frame", frames)
	}
}

func TestRunForwardsUsageOnlyEventToRecorder(t *testing.T) {
	w := httptest.NewRecorder()
	rec := metrics.NewRecorder("m", true, false)
	mux, err := New(w, rec)
	if err != nil {
		t.Fatal(err)
	}

	events, errs := feed(context.Background(), []domain.TokenEvent{
		{Text: "hi", Timestamp: time.Now(), Tokens: 1},
		{Timestamp: time.Now(), Usage: &domain.Usage{InputTokens: 9, OutputTokens: 4, Exact: true}},
	}, nil)

	snap, err := mux.Run(context.Background(), events, errs)
	if err != nil {
		t.Fatal(err)
	}

	// The usage-only event is recorded, not forwarded as a frame.
	frames := parseFrames(t, w.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want token + done", len(frames))
	}
	if snap.InputTokens == nil || *snap.InputTokens != 9 {
		t.Errorf("input_tokens = %v, want 9", snap.InputTokens)
	}
	if snap.OutputTokens == nil || *snap.OutputTokens != 4 {
		t.Errorf("output_tokens = %v, want 4", snap.OutputTokens)
	}
}
