package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
)

// MemoryStore keeps execution records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*schema.ExecutionRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*schema.ExecutionRecord)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*schema.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, rec *schema.ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*schema.ExecutionRecord, error) {
	s.mu.RLock()
	var out []*schema.ExecutionRecord
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
