// Package storage persists evaluation summaries per user. The current backend
// is an in-process store; the evaluation and server packages only see the
// append and list operations, so a database-backed implementation can slot in
// behind the same shape.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptd/evaluation"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Record is one persisted evaluation run.
type Record struct {
	ID        string              `json:"id"`
	UserID    string              `json:"userId"`
	CreatedAt time.Time           `json:"createdAt"`
	Summary   *evaluation.Summary `json:"summary"`
}

// MemoryStore keeps records in memory, newest first per user.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Record
	byUser  map[string][]string
	nowFunc func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Record),
		byUser:  make(map[string][]string),
		nowFunc: time.Now,
	}
}

// Append stores a summary for a user and returns the new record id.
func (s *MemoryStore) Append(ctx context.Context, userID string, summary *evaluation.Summary) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	record := &Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.nowFunc(),
		Summary:   summary,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[record.ID] = record
	s.byUser[userID] = append(s.byUser[userID], record.ID)
	return record.ID, nil
}

// ListByUser returns a user's records, newest first. limit <= 0 means all.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.byID[id])
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Get returns one record by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	record, exists := s.byID[id]
	if !exists {
		return nil, ErrNotFound
	}
	return record, nil
}
