package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, account, instrument, direction, status,
	total_quantity, max_quantity,
	average_entry_price, average_exit_price,
	total_points_pnl, total_dollars_pnl, total_commission, risk_reward_ratio,
	execution_count, entry_time, exit_time,
	last_validated_at, validation_status, integrity_score,
	created_at, updated_at
`

// Create inserts a position and returns its new id.
func (s *PositionStore) Create(ctx context.Context, p *domain.Position) (int64, error) {
	if p == nil || p.Account == "" || p.Instrument == "" {
		return 0, storage.ErrInvalidInput
	}
	if err := p.CheckInvariants(); err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO positions (
			account, instrument, direction, status,
			total_quantity, max_quantity,
			average_entry_price, average_exit_price,
			total_points_pnl, total_dollars_pnl, total_commission, risk_reward_ratio,
			execution_count, entry_time, exit_time,
			last_validated_at, validation_status, integrity_score,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8,
			$9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18,
			$19, $20
		)
		RETURNING id
	`

	now := time.Now().UnixMilli()
	createdAt, updatedAt := p.CreatedAt, p.UpdatedAt
	if createdAt == 0 {
		createdAt = now
	}
	if updatedAt == 0 {
		updatedAt = createdAt
	}

	var id int64
	err := s.pool.QueryRow(ctx, query,
		p.Account, p.Instrument, p.Direction, p.Status,
		p.TotalQuantity, p.MaxQuantity,
		p.AverageEntryPrice, p.AverageExitPrice,
		p.TotalPointsPnL, p.TotalDollarsPnL, p.TotalCommission, p.RiskRewardRatio,
		p.ExecutionCount, p.EntryTime, p.ExitTime,
		p.LastValidatedAt, p.ValidationStatus, p.IntegrityScore,
		createdAt, updatedAt,
	).Scan(&id)
	if err != nil {
		if isCheckViolation(err) {
			return 0, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return 0, fmt.Errorf("insert position: %w", err)
	}
	return id, nil
}

// Update overwrites a position. Returns false if no row was updated.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) (bool, error) {
	if p == nil {
		return false, storage.ErrInvalidInput
	}
	if err := p.CheckInvariants(); err != nil {
		return false, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	query := `
		UPDATE positions SET
			account = $2, instrument = $3, direction = $4, status = $5,
			total_quantity = $6, max_quantity = $7,
			average_entry_price = $8, average_exit_price = $9,
			total_points_pnl = $10, total_dollars_pnl = $11, total_commission = $12, risk_reward_ratio = $13,
			execution_count = $14, entry_time = $15, exit_time = $16,
			last_validated_at = $17, validation_status = $18, integrity_score = $19,
			updated_at = $20
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.Account, p.Instrument, p.Direction, p.Status,
		p.TotalQuantity, p.MaxQuantity,
		p.AverageEntryPrice, p.AverageExitPrice,
		p.TotalPointsPnL, p.TotalDollarsPnL, p.TotalCommission, p.RiskRewardRatio,
		p.ExecutionCount, p.EntryTime, p.ExitTime,
		p.LastValidatedAt, p.ValidationStatus, p.IntegrityScore,
		time.Now().UnixMilli(),
	)
	if err != nil {
		if isCheckViolation(err) {
			return false, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return false, fmt.Errorf("update position: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// DeleteMany deletes positions and returns the number removed.
// Links are removed by the position_executions foreign key cascade.
func (s *PositionStore) DeleteMany(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete positions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByGroup returns the positions of one group, ordered by entry time.
func (s *PositionStore) ListByGroup(ctx context.Context, account, instrument string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE account = $1 AND instrument = $2
		ORDER BY entry_time ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, account, instrument)
	if err != nil {
		return nil, fmt.Errorf("list positions by group: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListAll returns positions matching filter, ordered by id.
func (s *PositionStore) ListAll(ctx context.Context, filter domain.PositionFilter) ([]*domain.Position, error) {
	w := positionWhere(filter)
	query := `SELECT ` + positionColumns + ` FROM positions ` + w.clause() + ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetStatistics aggregates positions matching filter.
func (s *PositionStore) GetStatistics(ctx context.Context, filter domain.PositionFilter) (*domain.PositionStatistics, error) {
	w := positionWhere(filter)
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'open'),
			COUNT(*) FILTER (WHERE status = 'closed'),
			COUNT(*) FILTER (WHERE status = 'closed' AND total_dollars_pnl > 0),
			COUNT(*) FILTER (WHERE status = 'closed' AND total_dollars_pnl < 0),
			COALESCE(SUM(total_dollars_pnl), 0),
			COALESCE(SUM(total_commission), 0)
		FROM positions ` + w.clause()

	var st domain.PositionStatistics
	err := s.pool.QueryRow(ctx, query, w.args...).Scan(
		&st.TotalPositions, &st.OpenPositions, &st.ClosedPositions,
		&st.Winners, &st.Losers,
		&st.TotalDollarsPnL, &st.TotalCommission,
	)
	if err != nil {
		return nil, fmt.Errorf("get position statistics: %w", err)
	}
	if st.ClosedPositions > 0 {
		st.WinRate = float64(st.Winners) / float64(st.ClosedPositions)
	}
	return &st, nil
}

func positionWhere(f domain.PositionFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.Account != "" {
		w.add("account = $%d", f.Account)
	}
	if f.Instrument != "" {
		w.add("instrument = $%d", f.Instrument)
	}
	if f.Status != "" {
		w.add("status = $%d", f.Status)
	}
	return w
}

func positionDest(p *domain.Position) []any {
	return []any{
		&p.ID, &p.Account, &p.Instrument, &p.Direction, &p.Status,
		&p.TotalQuantity, &p.MaxQuantity,
		&p.AverageEntryPrice, &p.AverageExitPrice,
		&p.TotalPointsPnL, &p.TotalDollarsPnL, &p.TotalCommission, &p.RiskRewardRatio,
		&p.ExecutionCount, &p.EntryTime, &p.ExitTime,
		&p.LastValidatedAt, &p.ValidationStatus, &p.IntegrityScore,
		&p.CreatedAt, &p.UpdatedAt,
	}
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	if err := row.Scan(positionDest(&p)...); err != nil {
		return nil, err
	}
	return &p, nil
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(positionDest(&p)...); err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
