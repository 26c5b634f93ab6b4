// Package onnx adapts the gateway contract to the plain ONNX Runtime
// sidecar, which only supports blocking generation. Streaming is
// simulated: the adapter runs the blocking call, then re-chunks the
// full response into word-sized increments with synthetic pacing so
// the external streaming contract still holds. Timing figures from
// this adapter are synthetic and flagged as such downstream.
package onnx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/domain"
)

// DefaultChunkDelay spaces the synthetic increments of a simulated
// stream. Small enough to feel live, large enough that frames do not
// coalesce in proxies.
const DefaultChunkDelay = 5 * time.Millisecond

type Adapter struct {
	baseURL    string
	device     backend.Device
	chunkDelay time.Duration
	client     *http.Client
}

type Option func(*Adapter)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithChunkDelay overrides the synthetic spacing between simulated
// stream increments.
func WithChunkDelay(d time.Duration) Option {
	return func(a *Adapter) { a.chunkDelay = d }
}

func New(baseURL string, device backend.Device, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:    baseURL,
		device:     device,
		chunkDelay: DefaultChunkDelay,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string         { return string(backend.KindONNX) }
func (a *Adapter) Kind() backend.Kind { return backend.KindONNX }
func (a *Adapter) Simulated() bool    { return true }

func (a *Adapter) Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error) {
	prompt := backend.RenderPrompt(req.Messages)

	body, err := json.Marshal(generateRequest{
		Prompt:      prompt,
		Temperature: req.TemperatureOrDefault(),
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		TopK:        req.TopK,
		Device:      string(a.device),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, backend.WrapTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("onnx: %w", backend.WrapStatus(resp.StatusCode, respBody))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("onnx: %w: %v", domain.ErrBackendProtocol, err)
	}

	usage := domain.Usage{
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
		Exact:        true,
	}
	// Some model exports omit counts; fall back to the whitespace
	// approximation over the rendered prompt and generated text.
	if gen.InputTokens == 0 && gen.OutputTokens == 0 {
		usage = domain.Usage{
			InputTokens:  backend.ApproxTokens(prompt),
			OutputTokens: backend.ApproxTokens(gen.Content),
			Exact:        false,
		}
	}

	return &domain.Completion{Content: gen.Content, Usage: usage}, nil
}

// Stream upholds the streaming contract over a blocking-only backend:
// it completes the generation first, then yields word-sized increments
// spaced by chunkDelay. Cancellation stops the replay immediately; the
// backend call has already finished by then, so there is nothing
// backend-side left to release.
func (a *Adapter) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.TokenEvent, <-chan error) {
	events := make(chan domain.TokenEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		completion, err := a.Complete(ctx, req)
		if err != nil {
			errs <- err
			return
		}

		for _, word := range strings.Fields(completion.Content) {
			ev := domain.TokenEvent{
				Text:      word + " ",
				Timestamp: time.Now(),
				Tokens:    1,
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}

			select {
			case <-time.After(a.chunkDelay):
			case <-ctx.Done():
				return
			}
		}

		usage := completion.Usage
		final := domain.TokenEvent{
			Timestamp: time.Now(),
			Usage:     &usage,
		}
		select {
		case events <- final:
		case <-ctx.Done():
		}
	}()

	return events, errs
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return backend.WrapTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onnx unhealthy: status=%d", resp.StatusCode)
	}
	return nil
}

type generateRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	Device      string   `json:"device,omitempty"`
}

type generateResponse struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}
