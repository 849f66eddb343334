package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// ExecutionStore implements storage.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)

const executionColumns = `
	e.id, e.external_id, e.account, e.instrument, e.side,
	e.quantity, e.price, e.ts, e.commission,
	e.position_id, e.processed, e.deleted, e.created_at
`

// InsertBulk adds executions atomically and assigns their IDs.
// Fails entire batch on any invalid execution or duplicate external id.
func (s *ExecutionStore) InsertBulk(ctx context.Context, execs []*domain.Execution) error {
	if len(execs) == 0 {
		return nil
	}
	for _, e := range execs {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	query := `
		INSERT INTO executions (
			external_id, account, instrument, side,
			quantity, price, ts, commission,
			position_id, processed, deleted, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12
		)
		RETURNING id
	`

	now := time.Now().UnixMilli()
	ids := make([]int64, len(execs))
	err := s.pool.withTx(ctx, func(tx pgx.Tx) error {
		for i, e := range execs {
			createdAt := e.CreatedAt
			if createdAt == 0 {
				createdAt = now
			}
			err := tx.QueryRow(ctx, query,
				e.ExternalID, e.Account, e.Instrument, e.Side,
				e.Quantity, e.Price, e.Timestamp, e.Commission,
				e.PositionID, e.Processed, e.Deleted, createdAt,
			).Scan(&ids[i])
			if err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert execution in bulk: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, e := range execs {
		e.ID = ids[i]
		if e.CreatedAt == 0 {
			e.CreatedAt = now
		}
	}
	return nil
}

// GetByID retrieves an execution. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetByID(ctx context.Context, id int64) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions e WHERE e.id = $1`

	e, err := scanExecution(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get execution by id: %w", err)
	}
	return e, nil
}

// ListFills returns the non-deleted executions of one group in time order.
func (s *ExecutionStore) ListFills(ctx context.Context, account, instrument string) ([]*domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions e
		WHERE e.account = $1 AND e.instrument = $2 AND NOT e.deleted
		ORDER BY e.ts ASC, e.id ASC
	`

	rows, err := s.pool.Query(ctx, query, account, instrument)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// ListAllNonDeleted returns every non-deleted execution, ordered by id.
func (s *ExecutionStore) ListAllNonDeleted(ctx context.Context) ([]*domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions e
		WHERE NOT e.deleted
		ORDER BY e.id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list non-deleted executions: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// ListByPosition returns the executions linked to a position with their allocated quantity.
func (s *ExecutionStore) ListByPosition(ctx context.Context, positionID int64) ([]*domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `, pe.quantity
		FROM position_executions pe
		JOIN executions e ON e.id = pe.execution_id
		WHERE pe.position_id = $1
		ORDER BY e.ts ASC, e.id ASC
	`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("list executions by position: %w", err)
	}
	defer rows.Close()

	var execs []*domain.Execution
	for rows.Next() {
		var e domain.Execution
		var allocated int64
		if err := rows.Scan(executionDest(&e, &allocated)...); err != nil {
			return nil, fmt.Errorf("scan linked execution row: %w", err)
		}
		e.Quantity = allocated
		pid := positionID
		e.PositionID = &pid
		execs = append(execs, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked execution rows: %w", err)
	}
	return execs, nil
}

// LinkPosition stores allocations and marks the executions processed.
// Returns ErrNotFound if an execution does not exist.
func (s *ExecutionStore) LinkPosition(ctx context.Context, links []domain.ExecutionLink) error {
	if len(links) == 0 {
		return nil
	}
	for _, l := range links {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: link quantity must be positive, got %d", storage.ErrInvalidInput, l.Quantity)
		}
	}

	return s.pool.withTx(ctx, func(tx pgx.Tx) error {
		for _, l := range links {
			tag, err := tx.Exec(ctx,
				`UPDATE executions SET position_id = $1, processed = TRUE WHERE id = $2`,
				l.PositionID, l.ExecutionID,
			)
			if err != nil {
				return fmt.Errorf("mark execution processed: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return storage.ErrNotFound
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO position_executions (position_id, execution_id, quantity)
				VALUES ($1, $2, $3)
				ON CONFLICT (position_id, execution_id) DO UPDATE SET quantity = EXCLUDED.quantity
			`, l.PositionID, l.ExecutionID, l.Quantity)
			if err != nil {
				return fmt.Errorf("insert position link: %w", err)
			}
		}
		return nil
	})
}

// UnlinkPositions removes all allocations of the given positions. Affected
// executions fall back to the highest remaining linked position, or NULL.
func (s *ExecutionStore) UnlinkPositions(ctx context.Context, positionIDs []int64) error {
	if len(positionIDs) == 0 {
		return nil
	}

	return s.pool.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`DELETE FROM position_executions WHERE position_id = ANY($1) RETURNING execution_id`,
			positionIDs,
		)
		if err != nil {
			return fmt.Errorf("delete position links: %w", err)
		}
		affected, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("collect unlinked executions: %w", err)
		}
		if len(affected) == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE executions e
			SET position_id = (
				SELECT MAX(pe.position_id) FROM position_executions pe WHERE pe.execution_id = e.id
			)
			WHERE e.id = ANY($1)
		`, affected)
		if err != nil {
			return fmt.Errorf("reset execution position: %w", err)
		}
		return nil
	})
}

// ListGroups returns the distinct (account, instrument) pairs with non-deleted executions.
func (s *ExecutionStore) ListGroups(ctx context.Context) ([]domain.Group, error) {
	query := `
		SELECT DISTINCT account, instrument
		FROM executions
		WHERE NOT deleted
		ORDER BY account ASC, instrument ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.Account, &g.Instrument); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}
	return groups, nil
}

// SoftDelete hides an execution from builds. Returns ErrNotFound if not exists.
func (s *ExecutionStore) SoftDelete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE executions SET deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// executionDest returns scan destinations in executionColumns order, followed by extra.
func executionDest(e *domain.Execution, extra ...any) []any {
	dest := []any{
		&e.ID, &e.ExternalID, &e.Account, &e.Instrument, &e.Side,
		&e.Quantity, &e.Price, &e.Timestamp, &e.Commission,
		&e.PositionID, &e.Processed, &e.Deleted, &e.CreatedAt,
	}
	return append(dest, extra...)
}

// scanExecution scans a single row into an Execution.
func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	if err := row.Scan(executionDest(&e)...); err != nil {
		return nil, err
	}
	return &e, nil
}

// scanExecutions scans multiple rows into a slice of Execution.
func scanExecutions(rows pgx.Rows) ([]*domain.Execution, error) {
	var execs []*domain.Execution

	for rows.Next() {
		var e domain.Execution
		if err := rows.Scan(executionDest(&e)...); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		execs = append(execs, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}

	return execs, nil
}
