// Package ollama adapts the gateway contract to an Ollama daemon's
// /api/generate endpoint. Ollama streams natively: one JSON object per
// line, with exact token counts on the final object.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/domain"
)

type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type Option func(*Adapter)

// WithAPIKey sets a bearer token for protected deployments.
func WithAPIKey(key string) Option {
	return func(a *Adapter) { a.apiKey = key }
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

func New(baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string         { return string(backend.KindOllama) }
func (a *Adapter) Kind() backend.Kind { return backend.KindOllama }
func (a *Adapter) Simulated() bool    { return false }

func (a *Adapter) Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error) {
	body, err := json.Marshal(toGenerateRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := a.do(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: %w", backend.WrapStatus(resp.StatusCode, respBody))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("ollama: %w: %v", domain.ErrBackendProtocol, err)
	}

	return &domain.Completion{
		Content: gen.Response,
		Usage: domain.Usage{
			InputTokens:  gen.PromptEvalCount,
			OutputTokens: gen.EvalCount,
			Exact:        true,
		},
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.TokenEvent, <-chan error) {
	events := make(chan domain.TokenEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		body, err := json.Marshal(toGenerateRequest(req, true))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		resp, err := a.do(ctx, body)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("ollama: %w", backend.WrapStatus(resp.StatusCode, respBody))
			return
		}

		sawLine := false
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk streamChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				errs <- fmt.Errorf("ollama: %w: %v", domain.ErrBackendProtocol, err)
				return
			}
			sawLine = true

			if chunk.Done {
				final := domain.TokenEvent{
					Timestamp: time.Now(),
					Usage: &domain.Usage{
						InputTokens:  chunk.PromptEvalCount,
						OutputTokens: chunk.EvalCount,
						Exact:        true,
					},
				}
				select {
				case events <- final:
				case <-ctx.Done():
				}
				return
			}

			if chunk.Response == "" {
				continue
			}

			ev := domain.TokenEvent{
				Text:      chunk.Response,
				Timestamp: time.Now(),
				Tokens:    1,
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- backend.WrapTransport(err)
			return
		}
		if !sawLine {
			errs <- fmt.Errorf("ollama: %w: empty stream", domain.ErrBackendProtocol)
		}
	}()

	return events, errs
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return backend.WrapTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama unhealthy: status=%d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, backend.WrapTransport(err)
	}
	return resp, nil
}

func (a *Adapter) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *options `json:"options,omitempty"`
}

type options struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

type generateResponse struct {
	Model              string `json:"model"`
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
}

type streamChunk struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

func toGenerateRequest(req domain.ChatRequest, stream bool) generateRequest {
	opts := &options{Temperature: req.TemperatureOrDefault()}
	if req.MaxTokens != nil {
		opts.NumPredict = *req.MaxTokens
	}
	opts.TopP = req.TopP
	opts.TopK = req.TopK

	return generateRequest{
		Model:   req.Model,
		Prompt:  backend.RenderPrompt(req.Messages),
		Stream:  stream,
		Options: opts,
	}
}
