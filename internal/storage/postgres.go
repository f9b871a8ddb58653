package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists estimates in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const estimateColumns = `id, form, prompt, custom_prompt, model, answer, answer_json, image, status, error, prompt_tokens, response_tokens, cached, created_at, updated_at`

// CreateEstimate stores the provided estimate in PostgreSQL.
func (s *PostgresStore) CreateEstimate(ctx context.Context, input Estimate) (Estimate, error) {
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	if input.CreatedAt.IsZero() {
		input.CreatedAt = time.Now()
	}
	if input.UpdatedAt.IsZero() {
		input.UpdatedAt = input.CreatedAt
	}
	if input.Status == "" {
		input.Status = StatusPending
	}

	form, image, err := encodeDocuments(input)
	if err != nil {
		return Estimate{}, err
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO estimates (`+estimateColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		input.ID, form, input.Prompt, input.CustomPrompt, input.Model, input.Answer, string(input.JSON), image,
		string(input.Status), input.Error, input.PromptTokens, input.ResponseTokens, input.Cached,
		input.CreatedAt, input.UpdatedAt); err != nil {
		return Estimate{}, fmt.Errorf("insert estimate: %w", err)
	}

	return input, nil
}

// GetEstimate loads a single estimate.
func (s *PostgresStore) GetEstimate(ctx context.Context, id string) (Estimate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+estimateColumns+` FROM estimates WHERE id = $1`, id)
	estimate, err := scanEstimate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Estimate{}, ErrNotFound
	}
	if err != nil {
		return Estimate{}, fmt.Errorf("get estimate: %w", err)
	}
	return estimate, nil
}

// ListEstimates returns a slice of the most recent estimates.
func (s *PostgresStore) ListEstimates(ctx context.Context) ([]Estimate, error) {
	return s.queryEstimates(ctx, `SELECT `+estimateColumns+` FROM estimates ORDER BY created_at DESC LIMIT $1`, maxRecent)
}

// ListAllEstimates returns every stored estimate, oldest first.
func (s *PostgresStore) ListAllEstimates(ctx context.Context) ([]Estimate, error) {
	return s.queryEstimates(ctx, `SELECT `+estimateColumns+` FROM estimates ORDER BY created_at ASC`)
}

func (s *PostgresStore) queryEstimates(ctx context.Context, query string, args ...any) ([]Estimate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	estimates := []Estimate{}
	for rows.Next() {
		item, err := scanEstimate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		estimates = append(estimates, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate estimates: %w", err)
	}

	return estimates, nil
}

// UpdateEstimate overwrites the mutable fields of an estimate.
func (s *PostgresStore) UpdateEstimate(ctx context.Context, estimate Estimate) (Estimate, error) {
	form, image, err := encodeDocuments(estimate)
	if err != nil {
		return Estimate{}, err
	}

	row := s.pool.QueryRow(ctx, `UPDATE estimates SET
        form = $2, prompt = $3, custom_prompt = $4, model = $5, answer = $6, answer_json = $7, image = $8,
        status = $9, error = $10, prompt_tokens = $11, response_tokens = $12, cached = $13, updated_at = now()
        WHERE id = $1
        RETURNING `+estimateColumns,
		estimate.ID, form, estimate.Prompt, estimate.CustomPrompt, estimate.Model, estimate.Answer, string(estimate.JSON), image,
		string(estimate.Status), estimate.Error, estimate.PromptTokens, estimate.ResponseTokens, estimate.Cached)

	updated, err := scanEstimate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Estimate{}, ErrNotFound
	}
	if err != nil {
		return Estimate{}, fmt.Errorf("update estimate: %w", err)
	}
	return updated, nil
}

// DeleteEstimate removes an estimate.
func (s *PostgresStore) DeleteEstimate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM estimates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete estimate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases database resources.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func encodeDocuments(e Estimate) ([]byte, []byte, error) {
	form, err := json.Marshal(e.Form)
	if err != nil {
		return nil, nil, fmt.Errorf("encode form: %w", err)
	}
	image, err := json.Marshal(e.Image)
	if err != nil {
		return nil, nil, fmt.Errorf("encode image: %w", err)
	}
	return form, image, nil
}

func scanEstimate(row pgx.Row) (Estimate, error) {
	var (
		item        Estimate
		form, image []byte
		answerJSON  string
		status      string
	)
	if err := row.Scan(&item.ID, &form, &item.Prompt, &item.CustomPrompt, &item.Model, &item.Answer, &answerJSON, &image,
		&status, &item.Error, &item.PromptTokens, &item.ResponseTokens, &item.Cached, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Estimate{}, err
	}
	if err := json.Unmarshal(form, &item.Form); err != nil {
		return Estimate{}, fmt.Errorf("decode form: %w", err)
	}
	if err := json.Unmarshal(image, &item.Image); err != nil {
		return Estimate{}, fmt.Errorf("decode image: %w", err)
	}
	if answerJSON != "" {
		item.JSON = json.RawMessage(answerJSON)
	}
	item.Status = Status(status)
	return item, nil
}
