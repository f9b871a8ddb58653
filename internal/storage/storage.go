package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"paintEstimator/internal/prompts"
)

// ErrNotFound indicates that an estimate could not be located in the backing store.
var ErrNotFound = errors.New("estimate not found")

// maxRecent bounds list results and the in-memory history.
const maxRecent = 50

// Status tracks where an estimate is in its pipeline.
type Status string

const (
	StatusPending    Status = "pending"
	StatusEstimating Status = "estimating"
	StatusRefining   Status = "refining"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Estimate is one paint estimate request and the model's answer.
type Estimate struct {
	ID             string            `json:"id"`
	Form           prompts.FormState `json:"form"`
	Prompt         string            `json:"prompt"`
	CustomPrompt   bool              `json:"custom_prompt"`
	Model          string            `json:"model"`
	Answer         string            `json:"answer,omitempty"`
	JSON           json.RawMessage   `json:"json,omitempty"`
	Image          ImageRef          `json:"image"`
	Status         Status            `json:"status"`
	Error          string            `json:"error,omitempty"`
	PromptTokens   int               `json:"prompt_tokens,omitempty"`
	ResponseTokens int               `json:"response_tokens,omitempty"`
	Cached         bool              `json:"cached,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ImageRef points at the stored floorplan.
type ImageRef struct {
	Key      string `json:"key,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Store defines the persistence behaviors the application relies on.
type Store interface {
	CreateEstimate(ctx context.Context, input Estimate) (Estimate, error)
	GetEstimate(ctx context.Context, id string) (Estimate, error)
	ListEstimates(ctx context.Context) ([]Estimate, error)
	ListAllEstimates(ctx context.Context) ([]Estimate, error)
	UpdateEstimate(ctx context.Context, estimate Estimate) (Estimate, error)
	DeleteEstimate(ctx context.Context, id string) error
	Close()
}

// NewStore selects a backing store based on whether a database URL is provided.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NewInMemoryStore(), nil
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS estimates (
        id TEXT PRIMARY KEY,
        form JSONB NOT NULL DEFAULT '{}'::jsonb,
        prompt TEXT NOT NULL,
        custom_prompt BOOLEAN NOT NULL DEFAULT false,
        model TEXT NOT NULL DEFAULT '',
        answer TEXT NOT NULL DEFAULT '',
        answer_json TEXT NOT NULL DEFAULT '',
        image JSONB NOT NULL DEFAULT '{}'::jsonb,
        status TEXT NOT NULL,
        error TEXT NOT NULL DEFAULT '',
        prompt_tokens INTEGER NOT NULL DEFAULT 0,
        response_tokens INTEGER NOT NULL DEFAULT 0,
        cached BOOLEAN NOT NULL DEFAULT false,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`)
	if err != nil {
		return fmt.Errorf("create estimates table: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS estimates_created_at_idx ON estimates (created_at DESC)`); err != nil {
		return fmt.Errorf("index estimates table: %w", err)
	}
	return nil
}
