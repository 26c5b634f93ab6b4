// Package archive persists completed conversations. Archiving is
// always fire-and-forget from the request path: failures are logged,
// never propagated to the caller.
package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/talentai/llm-gateway/internal/domain"
)

// Conversation is the persisted record of one completed request.
type Conversation struct {
	RequestID    string           `json:"request_id"`
	Model        string           `json:"model"`
	Backend      string           `json:"backend"`
	Messages     []domain.Message `json:"messages"`
	Content      string           `json:"content"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	LatencyMs    int64            `json:"latency_ms"`
	Streamed     bool             `json:"streamed"`
	CreatedAt    time.Time        `json:"created_at"`
}

type Archiver interface {
	Archive(ctx context.Context, conv Conversation) error
}

// Async persists a conversation in the background with its own
// deadline, detached from the request context.
func Async(a Archiver, conv Conversation) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Archive(ctx, conv); err != nil {
			slog.Warn("failed to archive conversation",
				"request_id", conv.RequestID,
				"error", err,
			)
		}
	}()
}

// LogArchiver is the fallback when no persistence target is
// configured; it records only a debug line.
type LogArchiver struct{}

func (LogArchiver) Archive(ctx context.Context, conv Conversation) error {
	slog.Debug("conversation completed",
		"request_id", conv.RequestID,
		"model", conv.Model,
		"backend", conv.Backend,
		"output_tokens", conv.OutputTokens,
	)
	return nil
}
