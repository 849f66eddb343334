// Package storage defines the persistence contracts of the position ledger.
// Implementations live in the memory, postgres and clickhouse subpackages.
package storage

import (
	"context"

	"position-ledger/internal/domain"
)

// ExecutionStore provides access to executions and their position links.
type ExecutionStore interface {
	// InsertBulk adds executions atomically and assigns their IDs.
	// Returns ErrInvalidInput for an execution failing validation and
	// ErrDuplicateKey if an external id is already stored for the account.
	InsertBulk(ctx context.Context, execs []*domain.Execution) error

	// GetByID retrieves an execution. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Execution, error)

	// ListFills returns the non-deleted executions of one group, ordered by timestamp ASC, id ASC.
	ListFills(ctx context.Context, account, instrument string) ([]*domain.Execution, error)

	// ListAllNonDeleted returns every non-deleted execution, ordered by id ASC.
	ListAllNonDeleted(ctx context.Context) ([]*domain.Execution, error)

	// ListByPosition returns the executions linked to a position. The Quantity
	// of each returned execution is the quantity allocated to that position.
	ListByPosition(ctx context.Context, positionID int64) ([]*domain.Execution, error)

	// LinkPosition stores allocations and marks the executions processed.
	LinkPosition(ctx context.Context, links []domain.ExecutionLink) error

	// UnlinkPositions removes all allocations of the given positions and clears
	// the position reference of the affected executions.
	UnlinkPositions(ctx context.Context, positionIDs []int64) error

	// ListGroups returns the distinct (account, instrument) pairs with non-deleted executions.
	ListGroups(ctx context.Context) ([]domain.Group, error)
}

// PositionStore provides access to positions.
type PositionStore interface {
	// Create inserts a position and returns its new id.
	Create(ctx context.Context, p *domain.Position) (int64, error)

	// Update overwrites a position. Returns false if no row was updated.
	Update(ctx context.Context, p *domain.Position) (bool, error)

	// GetByID retrieves a position. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Position, error)

	// DeleteMany deletes positions and returns the number removed.
	DeleteMany(ctx context.Context, ids []int64) (int, error)

	// ListByGroup returns the positions of one group, ordered by entry_time ASC, id ASC.
	ListByGroup(ctx context.Context, account, instrument string) ([]*domain.Position, error)

	// ListAll returns positions matching filter, ordered by id ASC.
	ListAll(ctx context.Context, filter domain.PositionFilter) ([]*domain.Position, error)

	// GetStatistics aggregates positions matching filter.
	GetStatistics(ctx context.Context, filter domain.PositionFilter) (*domain.PositionStatistics, error)
}

// ValidationStore persists validation results and integrity issues.
type ValidationStore interface {
	// SaveValidationWithIssues stores a result and its issues atomically and
	// returns the validation id. Issue ids and validation ids are assigned.
	SaveValidationWithIssues(ctx context.Context, result *domain.ValidationResult, issues []domain.IntegrityIssue) (int64, error)

	// GetIntegrityIssues returns issues matching filter, newest first.
	GetIntegrityIssues(ctx context.Context, filter domain.IssueFilter) ([]domain.IntegrityIssue, error)

	// UpdateIssueResolution sets resolution status, method, notes and resolved_at.
	// Returns ErrNotFound if the issue does not exist.
	UpdateIssueResolution(ctx context.Context, issue *domain.IntegrityIssue) error

	// UpdateIssueRepairInfo records a repair attempt on an issue.
	// Returns ErrNotFound if the issue does not exist.
	UpdateIssueRepairInfo(ctx context.Context, issueID int64, info domain.RepairInfo) error

	// GetLatestValidation returns the newest position check for a position.
	// Returns ErrNotFound if the position was never validated.
	GetLatestValidation(ctx context.Context, positionID int64) (*domain.ValidationResult, error)
}

// BatchRunStore keeps the history of dataset-wide validation runs.
type BatchRunStore interface {
	// InsertRun appends a run. Returns ErrDuplicateKey if run_id exists.
	InsertRun(ctx context.Context, run *domain.BatchRun) error

	// ListRecent returns up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.BatchRun, error)
}
