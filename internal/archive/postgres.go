package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

type PostgresArchiver struct {
	db *sql.DB
}

func NewPostgresArchiver(databaseURL string) (*PostgresArchiver, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &PostgresArchiver{db: db}, nil
}

func NewPostgresArchiverFromDB(db *sql.DB) *PostgresArchiver {
	return &PostgresArchiver{db: db}
}

func (a *PostgresArchiver) Archive(ctx context.Context, conv Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	query := `
		INSERT INTO conversations
			(request_id, model, backend, messages, content, input_tokens, output_tokens, latency_ms, streamed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = a.db.ExecContext(ctx, query,
		conv.RequestID,
		conv.Model,
		conv.Backend,
		messages,
		conv.Content,
		conv.InputTokens,
		conv.OutputTokens,
		conv.LatencyMs,
		conv.Streamed,
		conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (a *PostgresArchiver) Close() error {
	return a.db.Close()
}
