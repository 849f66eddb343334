package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// ValidationStore implements storage.ValidationStore using PostgreSQL.
type ValidationStore struct {
	pool *Pool
}

// NewValidationStore creates a new ValidationStore.
func NewValidationStore(pool *Pool) *ValidationStore {
	return &ValidationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ValidationStore = (*ValidationStore)(nil)

const issueColumns = `
	id, validation_id, issue_type, severity, description, status,
	position_id, execution_id, metadata, fingerprint,
	detected_at, resolved_at, resolution_method, resolution_notes,
	repair_attempted, repair_method, repair_successful, repair_attempted_at, repair_details
`

// SaveValidationWithIssues stores a result and its issues in one transaction.
func (s *ValidationStore) SaveValidationWithIssues(ctx context.Context, result *domain.ValidationResult, issues []domain.IntegrityIssue) (int64, error) {
	if result == nil {
		return 0, storage.ErrInvalidInput
	}
	for _, i := range issues {
		if i.Description == "" {
			return 0, fmt.Errorf("%w: issue description is required", storage.ErrInvalidInput)
		}
	}

	resultQuery := `
		INSERT INTO validation_results (
			position_id, check_type, status, issue_count, ts, completed_at, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	issueQuery := `
		INSERT INTO integrity_issues (
			validation_id, issue_type, severity, description, status,
			position_id, execution_id, metadata, fingerprint, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var validationID int64
	err := s.pool.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, resultQuery,
			result.PositionID, result.CheckType, result.Status, len(issues),
			result.Timestamp, result.CompletedAt, result.ErrorMessage,
		).Scan(&validationID)
		if err != nil {
			return fmt.Errorf("insert validation result: %w", err)
		}

		for _, i := range issues {
			metadata, err := encodeJSON(i.Metadata, true)
			if err != nil {
				return err
			}
			status := i.Status
			if status == "" {
				status = domain.ResolutionOpen
			}
			_, err = tx.Exec(ctx, issueQuery,
				validationID, i.Type, i.Severity, i.Description, status,
				i.PositionID, i.ExecutionID, metadata, i.Fingerprint, i.DetectedAt,
			)
			if err != nil {
				return fmt.Errorf("insert integrity issue: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	result.ID = validationID
	result.IssueCount = len(issues)
	return validationID, nil
}

// GetIntegrityIssues returns issues matching filter, newest first.
func (s *ValidationStore) GetIntegrityIssues(ctx context.Context, filter domain.IssueFilter) ([]domain.IntegrityIssue, error) {
	w := &whereBuilder{}
	if filter.PositionID != nil {
		w.add("position_id = $%d", *filter.PositionID)
	}
	if filter.ValidationID != nil {
		w.add("validation_id = $%d", *filter.ValidationID)
	}
	if filter.Type != "" {
		w.add("issue_type = $%d", filter.Type)
	}
	if filter.Severity != "" {
		w.add("severity = $%d", filter.Severity)
	}
	if filter.Status != "" {
		w.add("status = $%d", filter.Status)
	}

	query := `SELECT ` + issueColumns + ` FROM integrity_issues ` + w.clause() + ` ORDER BY detected_at DESC, id DESC`
	args := w.args
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get integrity issues: %w", err)
	}
	defer rows.Close()

	var issues []domain.IntegrityIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integrity issue row: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integrity issue rows: %w", err)
	}
	return issues, nil
}

// UpdateIssueResolution sets resolution status, method, notes and resolved_at.
func (s *ValidationStore) UpdateIssueResolution(ctx context.Context, issue *domain.IntegrityIssue) error {
	if issue == nil {
		return storage.ErrInvalidInput
	}
	if issue.ResolvedAt != nil && *issue.ResolvedAt < issue.DetectedAt {
		return fmt.Errorf("%w: resolved_at before detected_at", storage.ErrInvalidInput)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE integrity_issues
		SET status = $2, resolution_method = $3, resolution_notes = $4, resolved_at = $5
		WHERE id = $1
	`, issue.ID, issue.Status, issue.ResolutionMethod, issue.ResolutionNotes, issue.ResolvedAt)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("update issue resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateIssueRepairInfo records a repair attempt on an issue.
func (s *ValidationStore) UpdateIssueRepairInfo(ctx context.Context, issueID int64, info domain.RepairInfo) error {
	details, err := encodeJSON(info.Details, false)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE integrity_issues
		SET repair_attempted = TRUE, repair_method = $2, repair_successful = $3,
			repair_attempted_at = $4, repair_details = $5
		WHERE id = $1
	`, issueID, info.Method, info.Successful, info.AttemptedAt, details)
	if err != nil {
		return fmt.Errorf("update issue repair info: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetLatestValidation returns the newest position check for a position.
func (s *ValidationStore) GetLatestValidation(ctx context.Context, positionID int64) (*domain.ValidationResult, error) {
	query := `
		SELECT id, position_id, check_type, status, issue_count, ts, completed_at, error_message
		FROM validation_results
		WHERE position_id = $1 AND check_type = $2
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`

	var r domain.ValidationResult
	err := s.pool.QueryRow(ctx, query, positionID, domain.CheckPosition).Scan(
		&r.ID, &r.PositionID, &r.CheckType, &r.Status, &r.IssueCount,
		&r.Timestamp, &r.CompletedAt, &r.ErrorMessage,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest validation: %w", err)
	}
	return &r, nil
}

// scanIssue scans a single row into an IntegrityIssue.
func scanIssue(row pgx.Row) (domain.IntegrityIssue, error) {
	var i domain.IntegrityIssue
	var metadata, details []byte

	err := row.Scan(
		&i.ID, &i.ValidationID, &i.Type, &i.Severity, &i.Description, &i.Status,
		&i.PositionID, &i.ExecutionID, &metadata, &i.Fingerprint,
		&i.DetectedAt, &i.ResolvedAt, &i.ResolutionMethod, &i.ResolutionNotes,
		&i.RepairAttempted, &i.RepairMethod, &i.RepairSuccessful, &i.RepairAttemptedAt, &details,
	)
	if err != nil {
		return i, err
	}

	if i.Metadata, err = decodeJSON(metadata); err != nil {
		return i, err
	}
	if i.RepairDetails, err = decodeJSON(details); err != nil {
		return i, err
	}
	return i, nil
}
