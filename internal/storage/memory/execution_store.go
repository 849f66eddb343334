package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// ExecutionStore is an in-memory implementation of storage.ExecutionStore.
type ExecutionStore struct {
	mu       sync.RWMutex
	data     map[int64]*domain.Execution      // keyed by id
	external map[string]int64                 // account|external_id -> id
	links    map[int64][]domain.ExecutionLink // keyed by position id
	nextID   int64
}

// NewExecutionStore creates a new in-memory execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		data:     make(map[int64]*domain.Execution),
		external: make(map[string]int64),
		links:    make(map[int64][]domain.ExecutionLink),
	}
}

func externalKey(e *domain.Execution) string {
	return e.Account + "|" + e.ExternalID
}

// InsertBulk adds executions atomically. Fails the entire batch on any invalid
// record or duplicate external id.
func (s *ExecutionStore) InsertBulk(_ context.Context, execs []*domain.Execution) error {
	if len(execs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(execs))
	for _, e := range execs {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		if e.ExternalID == "" {
			continue
		}
		key := externalKey(e)
		if _, exists := s.external[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, e := range execs {
		s.nextID++
		e.ID = s.nextID
		cp := cloneExecution(e)
		s.data[e.ID] = cp
		if e.ExternalID != "" {
			s.external[externalKey(e)] = e.ID
		}
	}
	return nil
}

// GetByID retrieves an execution. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetByID(_ context.Context, id int64) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneExecution(e), nil
}

// ListFills returns the non-deleted executions of one group ordered by time.
func (s *ExecutionStore) ListFills(_ context.Context, account, instrument string) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Execution
	for _, e := range s.data {
		if !e.Deleted && e.Account == account && e.Instrument == instrument {
			result = append(result, cloneExecution(e))
		}
	}
	sortByTime(result)
	return result, nil
}

// ListAllNonDeleted returns every non-deleted execution ordered by id.
func (s *ExecutionStore) ListAllNonDeleted(_ context.Context) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Execution
	for _, e := range s.data {
		if !e.Deleted {
			result = append(result, cloneExecution(e))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListByPosition returns the executions allocated to a position with their
// allocated quantities.
func (s *ExecutionStore) ListByPosition(_ context.Context, positionID int64) ([]*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Execution
	for _, l := range s.links[positionID] {
		e, exists := s.data[l.ExecutionID]
		if !exists || e.Deleted {
			continue
		}
		cp := cloneExecution(e)
		cp.Quantity = l.Quantity
		pid := positionID
		cp.PositionID = &pid
		result = append(result, cp)
	}
	sortByTime(result)
	return result, nil
}

// LinkPosition stores allocations and marks the executions processed.
func (s *ExecutionStore) LinkPosition(_ context.Context, links []domain.ExecutionLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range links {
		if l.Quantity <= 0 || l.PositionID <= 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[l.ExecutionID]; !exists {
			return storage.ErrNotFound
		}
	}

	for _, l := range links {
		s.links[l.PositionID] = append(s.links[l.PositionID], l)
		e := s.data[l.ExecutionID]
		pid := l.PositionID
		e.PositionID = &pid
		e.Processed = true
	}
	return nil
}

// UnlinkPositions removes all allocations of the given positions.
func (s *ExecutionStore) UnlinkPositions(_ context.Context, positionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[int64]struct{}, len(positionIDs))
	for _, id := range positionIDs {
		removed[id] = struct{}{}
		delete(s.links, id)
	}

	for _, e := range s.data {
		if e.PositionID == nil {
			continue
		}
		if _, gone := removed[*e.PositionID]; !gone {
			continue
		}
		e.PositionID = s.remainingLink(e.ID)
	}
	return nil
}

// remainingLink returns the highest position id still linked to the execution.
func (s *ExecutionStore) remainingLink(execID int64) *int64 {
	var best *int64
	for pid, links := range s.links {
		for _, l := range links {
			if l.ExecutionID == execID && (best == nil || pid > *best) {
				p := pid
				best = &p
			}
		}
	}
	return best
}

// ListGroups returns the distinct groups with non-deleted executions.
func (s *ExecutionStore) ListGroups(_ context.Context) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.Group]struct{})
	var groups []domain.Group
	for _, e := range s.data {
		if e.Deleted {
			continue
		}
		g := domain.Group{Account: e.Account, Instrument: e.Instrument}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Account != groups[j].Account {
			return groups[i].Account < groups[j].Account
		}
		return groups[i].Instrument < groups[j].Instrument
	})
	return groups, nil
}

// SoftDelete marks an execution deleted.
func (s *ExecutionStore) SoftDelete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	e.Deleted = true
	return nil
}

func cloneExecution(e *domain.Execution) *domain.Execution {
	cp := *e
	if e.PositionID != nil {
		pid := *e.PositionID
		cp.PositionID = &pid
	}
	return &cp
}

func sortByTime(execs []*domain.Execution) {
	sort.Slice(execs, func(i, j int) bool {
		if execs[i].Timestamp != execs[j].Timestamp {
			return execs[i].Timestamp < execs[j].Timestamp
		}
		return execs[i].ID < execs[j].ID
	})
}

var _ storage.ExecutionStore = (*ExecutionStore)(nil)
