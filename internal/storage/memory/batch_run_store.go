package memory

import (
	"context"
	"sort"
	"sync"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// BatchRunStore is an in-memory implementation of storage.BatchRunStore.
type BatchRunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BatchRun // keyed by run_id
}

// NewBatchRunStore creates a new in-memory batch run store.
func NewBatchRunStore() *BatchRunStore {
	return &BatchRunStore{
		data: make(map[string]*domain.BatchRun),
	}
}

// InsertRun appends a run. Returns ErrDuplicateKey if run_id exists.
func (s *BatchRunStore) InsertRun(_ context.Context, run *domain.BatchRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *run
	s.data[run.RunID] = &cp
	return nil
}

// ListRecent returns up to limit runs, newest first.
func (s *BatchRunStore) ListRecent(_ context.Context, limit int) ([]*domain.BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.BatchRun, 0, len(s.data))
	for _, r := range s.data {
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].RunID > result[j].RunID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.BatchRunStore = (*BatchRunStore)(nil)
