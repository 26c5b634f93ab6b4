package domain

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTemperature is applied when the caller omits temperature,
// matching the historical behavior of the UI this gateway fronts.
const DefaultTemperature = 0.2

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
}

// TemperatureOrDefault returns the requested sampling temperature,
// falling back to DefaultTemperature when unset.
func (r ChatRequest) TemperatureOrDefault() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return DefaultTemperature
}

// Usage holds token counts for one generation. Exact is false when the
// backend did not report counts and they were approximated by
// whitespace splitting, which is not real tokenization.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Exact        bool
}

// TokenEvent is one increment of a streaming generation. Tokens is the
// token-equivalent count of the fragment: 1 for a native per-token
// event, a whitespace-split count for a re-chunked simulated event.
// Usage is set on the terminal event when the backend reports counts.
type TokenEvent struct {
	Text      string
	Timestamp time.Time
	Tokens    int
	Usage     *Usage
}

// Completion is the result of a blocking generation.
type Completion struct {
	Content string
	Usage   Usage
}

// MetricsSnapshot is computed once per request at completion. Optional
// fields serialize as null, mirroring the wire format consumed by the
// UI. TTFT is only set on the streaming path; TPOT only when at least
// one output token was produced.
type MetricsSnapshot struct {
	TTFT                  *float64 `json:"ttft"`
	TotalLatency          float64  `json:"total_latency"`
	TokensPerSecond       *float64 `json:"tokens_per_second"`
	OutputTokensPerSecond *float64 `json:"output_tokens_per_second"`
	InputTokens           *int     `json:"input_tokens"`
	OutputTokens          *int     `json:"output_tokens"`
	TPOT                  *float64 `json:"tpot"`
	Model                 string   `json:"model"`

	// Simulated marks snapshots whose stream was re-chunked from a
	// blocking call; the TTFT/TPOT figures are synthetic and not
	// representative of backend latency.
	Simulated bool `json:"simulated_stream,omitempty"`
}

type ChatResponse struct {
	Content string          `json:"content"`
	Metrics MetricsSnapshot `json:"metrics"`
}

// StreamFrame is one SSE event body. A token frame carries only Token;
// the terminal frame carries Done, the "[DONE]" sentinel and the
// metrics; an error frame carries only Error.
type StreamFrame struct {
	Token   string           `json:"token,omitempty"`
	Done    bool             `json:"done,omitempty"`
	Metrics *MetricsSnapshot `json:"metrics,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// DoneToken is the sentinel carried by the terminal stream frame.
const DoneToken = "[DONE]"
