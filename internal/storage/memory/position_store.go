package memory

import (
	"context"
	"sort"
	"sync"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.Position // keyed by id
	nextID int64
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[int64]*domain.Position),
	}
}

// Create inserts a position and returns its new id.
func (s *PositionStore) Create(_ context.Context, p *domain.Position) (int64, error) {
	if p == nil || p.Account == "" || p.Instrument == "" {
		return 0, storage.ErrInvalidInput
	}
	if err := p.CheckInvariants(); err != nil {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	cp := p.Clone()
	cp.ID = s.nextID
	s.data[cp.ID] = &cp
	return cp.ID, nil
}

// Update overwrites a position. Returns false if it does not exist.
func (s *PositionStore) Update(_ context.Context, p *domain.Position) (bool, error) {
	if p == nil {
		return false, storage.ErrInvalidInput
	}
	if err := p.CheckInvariants(); err != nil {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; !exists {
		return false, nil
	}
	cp := p.Clone()
	s.data[p.ID] = &cp
	return true, nil
}

// GetByID retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, id int64) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := p.Clone()
	return &cp, nil
}

// DeleteMany deletes positions and returns the number removed.
func (s *PositionStore) DeleteMany(_ context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range ids {
		if _, exists := s.data[id]; exists {
			delete(s.data, id)
			count++
		}
	}
	return count, nil
}

// ListByGroup returns the positions of one group ordered by entry time.
func (s *PositionStore) ListByGroup(_ context.Context, account, instrument string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Account == account && p.Instrument == instrument {
			cp := p.Clone()
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EntryTime != result[j].EntryTime {
			return result[i].EntryTime < result[j].EntryTime
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ListAll returns positions matching filter ordered by id.
func (s *PositionStore) ListAll(_ context.Context, filter domain.PositionFilter) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if filter.Matches(p) {
			cp := p.Clone()
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetStatistics aggregates positions matching filter.
func (s *PositionStore) GetStatistics(ctx context.Context, filter domain.PositionFilter) (*domain.PositionStatistics, error) {
	positions, err := s.ListAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	stats := &domain.PositionStatistics{}
	for _, p := range positions {
		stats.Add(p)
	}
	return stats, nil
}

var _ storage.PositionStore = (*PositionStore)(nil)
