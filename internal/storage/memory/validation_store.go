package memory

import (
	"context"
	"sort"
	"sync"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// ValidationStore is an in-memory implementation of storage.ValidationStore.
type ValidationStore struct {
	mu          sync.RWMutex
	results     map[int64]*domain.ValidationResult
	issues      map[int64]*domain.IntegrityIssue
	nextResult  int64
	nextIssueID int64
}

// NewValidationStore creates a new in-memory validation store.
func NewValidationStore() *ValidationStore {
	return &ValidationStore{
		results: make(map[int64]*domain.ValidationResult),
		issues:  make(map[int64]*domain.IntegrityIssue),
	}
}

// SaveValidationWithIssues stores a result and its issues atomically.
func (s *ValidationStore) SaveValidationWithIssues(_ context.Context, result *domain.ValidationResult, issues []domain.IntegrityIssue) (int64, error) {
	if result == nil {
		return 0, storage.ErrInvalidInput
	}
	for _, i := range issues {
		if i.Description == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextResult++
	r := cloneResult(result)
	r.ID = s.nextResult
	r.IssueCount = len(issues)
	s.results[r.ID] = r
	result.ID = r.ID

	for _, i := range issues {
		s.nextIssueID++
		cp := cloneIssue(i)
		cp.ID = s.nextIssueID
		cp.ValidationID = r.ID
		s.issues[cp.ID] = &cp
	}
	return r.ID, nil
}

// GetIntegrityIssues returns issues matching filter, newest first.
func (s *ValidationStore) GetIntegrityIssues(_ context.Context, filter domain.IssueFilter) ([]domain.IntegrityIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.IntegrityIssue
	for _, i := range s.issues {
		if filter.Matches(i) {
			result = append(result, cloneIssue(*i))
		}
	}
	sort.Slice(result, func(a, b int) bool {
		if result[a].DetectedAt != result[b].DetectedAt {
			return result[a].DetectedAt > result[b].DetectedAt
		}
		return result[a].ID > result[b].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// UpdateIssueResolution sets the resolution fields of an issue.
func (s *ValidationStore) UpdateIssueResolution(_ context.Context, issue *domain.IntegrityIssue) error {
	if issue == nil {
		return storage.ErrInvalidInput
	}
	if issue.ResolvedAt != nil && *issue.ResolvedAt < issue.DetectedAt {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.issues[issue.ID]
	if !exists {
		return storage.ErrNotFound
	}
	stored.Status = issue.Status
	stored.ResolutionMethod = issue.ResolutionMethod
	stored.ResolutionNotes = issue.ResolutionNotes
	stored.ResolvedAt = nil
	if issue.ResolvedAt != nil {
		at := *issue.ResolvedAt
		stored.ResolvedAt = &at
	}
	return nil
}

// UpdateIssueRepairInfo records a repair attempt on an issue.
func (s *ValidationStore) UpdateIssueRepairInfo(_ context.Context, issueID int64, info domain.RepairInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.issues[issueID]
	if !exists {
		return storage.ErrNotFound
	}
	successful := info.Successful
	at := info.AttemptedAt
	stored.RepairAttempted = true
	stored.RepairMethod = info.Method
	stored.RepairSuccessful = &successful
	stored.RepairAttemptedAt = &at
	stored.RepairDetails = cloneMap(info.Details)
	return nil
}

// GetLatestValidation returns the newest position check for a position.
func (s *ValidationStore) GetLatestValidation(_ context.Context, positionID int64) (*domain.ValidationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.ValidationResult
	for _, r := range s.results {
		if r.PositionID == nil || *r.PositionID != positionID || r.CheckType != domain.CheckPosition {
			continue
		}
		if latest == nil || r.Timestamp > latest.Timestamp || (r.Timestamp == latest.Timestamp && r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return cloneResult(latest), nil
}

func cloneResult(r *domain.ValidationResult) *domain.ValidationResult {
	cp := *r
	if r.PositionID != nil {
		v := *r.PositionID
		cp.PositionID = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

func cloneIssue(i domain.IntegrityIssue) domain.IntegrityIssue {
	cp := i
	cp.PositionID = cloneInt64(i.PositionID)
	cp.ExecutionID = cloneInt64(i.ExecutionID)
	cp.ResolvedAt = cloneInt64(i.ResolvedAt)
	cp.RepairAttemptedAt = cloneInt64(i.RepairAttemptedAt)
	if i.RepairSuccessful != nil {
		v := *i.RepairSuccessful
		cp.RepairSuccessful = &v
	}
	cp.Metadata = cloneMap(i.Metadata)
	cp.RepairDetails = cloneMap(i.RepairDetails)
	return cp
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

var _ storage.ValidationStore = (*ValidationStore)(nil)
