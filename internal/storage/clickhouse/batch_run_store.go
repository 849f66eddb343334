package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// BatchRunStore implements storage.BatchRunStore using ClickHouse.
type BatchRunStore struct {
	conn *Conn
}

// NewBatchRunStore creates a new BatchRunStore.
func NewBatchRunStore(conn *Conn) *BatchRunStore {
	return &BatchRunStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BatchRunStore = (*BatchRunStore)(nil)

// InsertRun appends a run. Returns ErrDuplicateKey if run_id exists.
func (s *BatchRunStore) InsertRun(ctx context.Context, run *domain.BatchRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would silently replace, but runs are append-only
	exists, err := s.exists(ctx, run.RunID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO batch_runs (
			run_id, started_at, completed_at,
			positions_checked, passed, failed, errored, skipped,
			issue_count, critical_count, orphaned_count, timed_out
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		run.RunID, run.StartedAt, run.CompletedAt,
		uint32(run.PositionsChecked), uint32(run.Passed), uint32(run.Failed), uint32(run.Errored), uint32(run.Skipped),
		uint32(run.IssueCount), uint32(run.CriticalCount), uint32(run.OrphanedCount), run.TimedOut,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ListRecent returns up to limit runs, newest first.
func (s *BatchRunStore) ListRecent(ctx context.Context, limit int) ([]*domain.BatchRun, error) {
	query := `
		SELECT
			run_id, started_at, completed_at,
			positions_checked, passed, failed, errored, skipped,
			issue_count, critical_count, orphaned_count, timed_out
		FROM batch_runs FINAL
		ORDER BY started_at DESC, run_id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	return scanBatchRuns(rows)
}

func (s *BatchRunStore) exists(ctx context.Context, runID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM batch_runs WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanBatchRuns scans multiple rows into a slice of BatchRun.
func scanBatchRuns(rows driver.Rows) ([]*domain.BatchRun, error) {
	var runs []*domain.BatchRun

	for rows.Next() {
		var r domain.BatchRun
		var checked, passed, failed, errored, skipped, issues, critical, orphaned uint32

		err := rows.Scan(
			&r.RunID, &r.StartedAt, &r.CompletedAt,
			&checked, &passed, &failed, &errored, &skipped,
			&issues, &critical, &orphaned, &r.TimedOut,
		)
		if err != nil {
			return nil, fmt.Errorf("scan batch run row: %w", err)
		}

		r.PositionsChecked = int(checked)
		r.Passed = int(passed)
		r.Failed = int(failed)
		r.Errored = int(errored)
		r.Skipped = int(skipped)
		r.IssueCount = int(issues)
		r.CriticalCount = int(critical)
		r.OrphanedCount = int(orphaned)
		runs = append(runs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch run rows: %w", err)
	}

	return runs, nil
}
