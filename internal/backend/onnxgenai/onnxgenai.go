// Package onnxgenai adapts the gateway contract to the ONNX GenAI
// sidecar, an embedded-runtime daemon that decodes token by token and
// streams each decoded fragment as a JSON line. Token counts come from
// the runtime's own tokenizer, so they are exact.
package onnxgenai

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
	device  backend.Device
	client  *http.Client
}

type Option func(*Adapter)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

func New(baseURL string, device backend.Device, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: baseURL,
		device:  device,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ID() string         { return string(backend.KindONNXGenAI) }
func (a *Adapter) Kind() backend.Kind { return backend.KindONNXGenAI }
func (a *Adapter) Simulated() bool    { return false }

func (a *Adapter) Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error) {
	resp, err := a.post(ctx, "/v1/generate", toGenerateRequest(req, a.device))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("onnx-genai: %w", backend.WrapStatus(resp.StatusCode, body))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, fmt.Errorf("onnx-genai: %w: %v", domain.ErrBackendProtocol, err)
	}

	return &domain.Completion{
		Content: gen.Content,
		Usage: domain.Usage{
			InputTokens:  gen.InputTokens,
			OutputTokens: gen.OutputTokens,
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

		resp, err := a.post(ctx, "/v1/generate/stream", toGenerateRequest(req, a.device))
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("onnx-genai: %w", backend.WrapStatus(resp.StatusCode, body))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk streamChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				errs <- fmt.Errorf("onnx-genai: %w: %v", domain.ErrBackendProtocol, err)
				return
			}

			if chunk.Done {
				final := domain.TokenEvent{
					Timestamp: time.Now(),
					Usage: &domain.Usage{
						InputTokens:  chunk.InputTokens,
						OutputTokens: chunk.OutputTokens,
						Exact:        true,
					},
				}
				select {
				case events <- final:
				case <-ctx.Done():
				}
				return
			}

			ev := domain.TokenEvent{
				Text:      chunk.Token,
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
		return fmt.Errorf("onnx-genai unhealthy: status=%d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, backend.WrapTransport(err)
	}
	return resp, nil
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
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

type streamChunk struct {
	Token        string `json:"token"`
	Done         bool   `json:"done"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

func toGenerateRequest(req domain.ChatRequest, device backend.Device) generateRequest {
	return generateRequest{
		Prompt:      backend.RenderPrompt(req.Messages),
		Temperature: req.TemperatureOrDefault(),
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		TopK:        req.TopK,
		Device:      string(device),
	}
}
