// Package bedrock adapts the gateway contract to AWS Bedrock's
// Anthropic messages API. Bedrock streams natively over the SDK's
// response event stream and reports exact token counts.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/domain"
)

const anthropicVersion = "bedrock-2023-05-31"

const defaultMaxTokens = 4096

type Adapter struct {
	client *bedrockruntime.Client
	region string
}

func New(ctx context.Context, region string) (*Adapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithConfig(cfg), nil
}

func NewWithConfig(cfg aws.Config) *Adapter {
	return &Adapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: cfg.Region,
	}
}

func (a *Adapter) ID() string         { return string(backend.KindBedrock) }
func (a *Adapter) Kind() backend.Kind { return backend.KindBedrock }
func (a *Adapter) Simulated() bool    { return false }

func (a *Adapter) Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error) {
	body, err := json.Marshal(toInvokeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", classifyInvokeError(err))
	}

	var resp invokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: %w: %v", domain.ErrBackendProtocol, err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &domain.Completion{
		Content: content,
		Usage: domain.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
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

		body, err := json.Marshal(toInvokeRequest(req))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		output, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(req.Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			errs <- fmt.Errorf("bedrock: %w", classifyInvokeError(err))
			return
		}

		stream := output.GetStream()
		defer stream.Close()

		var usage domain.Usage
		usage.Exact = true

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var payload streamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &payload); err != nil {
				errs <- fmt.Errorf("bedrock: %w: %v", domain.ErrBackendProtocol, err)
				return
			}

			switch payload.Type {
			case "message_start":
				if payload.Message != nil {
					usage.InputTokens = payload.Message.Usage.InputTokens
				}

			case "content_block_delta":
				if payload.Delta == nil || payload.Delta.Text == "" {
					continue
				}
				ev := domain.TokenEvent{
					Text:      payload.Delta.Text,
					Timestamp: time.Now(),
					Tokens:    1,
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}

			case "message_delta":
				if payload.Usage != nil {
					usage.OutputTokens = payload.Usage.OutputTokens
				}

			case "message_stop":
				final := domain.TokenEvent{Timestamp: time.Now(), Usage: &usage}
				select {
				case events <- final:
				case <-ctx.Done():
				}
				return
			}
		}

		if err := stream.Err(); err != nil {
			errs <- backend.WrapTransport(err)
		}
	}()

	return events, errs
}

// HealthCheck reports ok when the SDK client is configured. Bedrock has
// no cheap ping; invoking a model for liveness would bill per probe.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("bedrock client not configured")
	}
	return nil
}

func classifyInvokeError(err error) error {
	var vErr *types.ValidationException
	var tErr *types.ThrottlingException
	if errors.As(err, &vErr) || errors.As(err, &tErr) {
		return fmt.Errorf("%w: %v", domain.ErrBackendRejected, err)
	}
	return backend.WrapTransport(err)
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             *float64  `json:"top_p,omitempty"`
	TopK             *int      `json:"top_k,omitempty"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeResponse struct {
	Content []contentBlock `json:"content"`
	Usage   usagePayload   `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usagePayload struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type    string        `json:"type"`
	Delta   *streamDelta  `json:"delta,omitempty"`
	Message *messageStart `json:"message,omitempty"`
	Usage   *usagePayload `json:"usage,omitempty"`
}

type streamDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageStart struct {
	Usage usagePayload `json:"usage"`
}

func toInvokeRequest(req domain.ChatRequest) invokeRequest {
	var system string
	var messages []message
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, message{Role: m.Role, Content: m.Content})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	return invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      req.TemperatureOrDefault(),
		TopP:             req.TopP,
		TopK:             req.TopK,
		System:           system,
		Messages:         messages,
	}
}
