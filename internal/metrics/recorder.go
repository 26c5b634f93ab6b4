// Package metrics computes the per-request latency/throughput envelope
// and exports the process-wide Prometheus collectors.
package metrics

import (
	"math"
	"time"

	"github.com/talentai/llm-gateway/internal/domain"
)

// Recorder accumulates timing and token counts for one request. It is
// created at request start, fed every token event, and asked for one
// snapshot at completion. It is owned by a single goroutine and must
// not be shared.
//
// All instants come from time.Now, whose monotonic reading makes the
// subtractions immune to wall-clock adjustments.
type Recorder struct {
	model     string
	streaming bool
	simulated bool

	start      time.Time
	firstToken time.Time

	outputTokens int
	usage        *domain.Usage
}

func NewRecorder(model string, streaming, simulated bool) *Recorder {
	return &Recorder{
		model:     model,
		streaming: streaming,
		simulated: simulated,
		start:     time.Now(),
	}
}

// Observe records one token event. Events carrying no text (the
// count-bearing terminal event of a native stream) do not advance the
// first-token instant or the running output count.
func (r *Recorder) Observe(ev domain.TokenEvent) {
	if ev.Usage != nil {
		r.SetUsage(*ev.Usage)
	}
	if ev.Tokens == 0 && ev.Text == "" {
		return
	}
	if r.firstToken.IsZero() {
		r.firstToken = ev.Timestamp
		if r.firstToken.IsZero() {
			r.firstToken = time.Now()
		}
	}
	r.outputTokens += ev.Tokens
}

// SetUsage installs backend-reported counts, which take precedence
// over the running per-event approximation in the snapshot.
func (r *Recorder) SetUsage(u domain.Usage) {
	r.usage = &u
}

// Snapshot computes the metrics envelope. Call it exactly once, at
// request completion.
func (r *Recorder) Snapshot() *domain.MetricsSnapshot {
	completion := time.Now()
	total := completion.Sub(r.start).Seconds()

	inputTokens := 0
	outputTokens := r.outputTokens
	if r.usage != nil {
		inputTokens = r.usage.InputTokens
		if r.usage.OutputTokens > 0 {
			outputTokens = r.usage.OutputTokens
		}
	}

	snap := &domain.MetricsSnapshot{
		TotalLatency: round(total, 4),
		Model:        r.model,
		Simulated:    r.streaming && r.simulated,
	}
	if inputTokens > 0 {
		snap.InputTokens = intPtr(inputTokens)
	}
	if outputTokens > 0 {
		snap.OutputTokens = intPtr(outputTokens)
	}

	var ttft float64
	if r.streaming && !r.firstToken.IsZero() {
		ttft = r.firstToken.Sub(r.start).Seconds()
		snap.TTFT = floatPtr(round(ttft, 4))
	}

	if total <= 0 {
		return snap
	}

	if totalTokens := inputTokens + outputTokens; totalTokens > 0 {
		snap.TokensPerSecond = floatPtr(round(float64(totalTokens)/total, 2))
	}

	if outputTokens > 0 {
		// The generation window excludes time-to-first-token on the
		// streaming path; the blocking path has no separate
		// first-token instant, so the whole latency counts.
		generation := total - ttft
		if generation > 0 {
			snap.OutputTokensPerSecond = floatPtr(round(float64(outputTokens)/generation, 2))
			snap.TPOT = floatPtr(round(generation/float64(outputTokens), 4))
		}
	}

	return snap
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
