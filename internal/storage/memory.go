package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a thread-safe store used when a database is not configured.
// Only the most recent estimates are kept.
type InMemoryStore struct {
	mu        sync.RWMutex
	estimates []Estimate
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{estimates: make([]Estimate, 0)}
}

// CreateEstimate prepends an estimate, assigning ID and timestamps when missing.
func (s *InMemoryStore) CreateEstimate(_ context.Context, input Estimate) (Estimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.estimates = append([]Estimate{input}, s.estimates...)
	if len(s.estimates) > maxRecent {
		s.estimates = s.estimates[:maxRecent]
	}

	return input, nil
}

// GetEstimate returns an estimate by ID.
func (s *InMemoryStore) GetEstimate(_ context.Context, id string) (Estimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.estimates {
		if e.ID == id {
			return e, nil
		}
	}
	return Estimate{}, ErrNotFound
}

// ListEstimates returns a snapshot of stored estimates, newest first.
func (s *InMemoryStore) ListEstimates(_ context.Context) ([]Estimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]Estimate, len(s.estimates))
	copy(snapshot, s.estimates)
	return snapshot, nil
}

// ListAllEstimates matches ListEstimates since only recent estimates are kept.
func (s *InMemoryStore) ListAllEstimates(ctx context.Context) ([]Estimate, error) {
	return s.ListEstimates(ctx)
}

// UpdateEstimate replaces the stored estimate with the same ID.
func (s *InMemoryStore) UpdateEstimate(_ context.Context, estimate Estimate) (Estimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx, e := range s.estimates {
		if e.ID == estimate.ID {
			estimate.CreatedAt = e.CreatedAt
			estimate.UpdatedAt = time.Now()
			s.estimates[idx] = estimate
			return estimate, nil
		}
	}
	return Estimate{}, ErrNotFound
}

// DeleteEstimate removes an estimate by ID.
func (s *InMemoryStore) DeleteEstimate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx, e := range s.estimates {
		if e.ID == id {
			s.estimates = append(s.estimates[:idx], s.estimates[idx+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Close satisfies the Store interface.
func (s *InMemoryStore) Close() {}
