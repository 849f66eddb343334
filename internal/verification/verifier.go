// Package verification checks that stored positions match a fresh rebuild
// from their executions. Nothing is written.
package verification

import (
	"math"

	"position-ledger/internal/domain"
)

// FloatTolerance is the tolerance for price and P&L comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and rebuilt values.
type FieldDivergence struct {
	Field    string `json:"field"`
	Expected any    `json:"expected"` // stored value
	Actual   any    `json:"actual"`   // rebuilt value
}

// PositionVerification is the comparison of one stored position with its rebuild.
// StoredID is 0 when the rebuild produced a position that is not stored.
type PositionVerification struct {
	StoredID    int64             `json:"stored_id"`
	Match       bool              `json:"match"`
	Divergences []FieldDivergence `json:"divergences,omitempty"`
}

// GroupVerification contains the results for one (account, instrument) group.
type GroupVerification struct {
	Group     domain.Group           `json:"group"`
	Stored    int                    `json:"stored"`
	Rebuilt   int                    `json:"rebuilt"`
	Matched   int                    `json:"matched"`
	Results   []PositionVerification `json:"results"`
	Diverged  bool                   `json:"diverged"`
	ErrString string                 `json:"error,omitempty"`
}

// Report contains results for every group.
type Report struct {
	TotalGroups     int                 `json:"total_groups"`
	MatchedGroups   int                 `json:"matched_groups"`
	DivergentGroups int                 `json:"divergent_groups"`
	Groups          []GroupVerification `json:"groups"`
}

// ComparePositions compares the derived fields of a stored position with a
// rebuilt one. Ids, integrity metadata and record timestamps are ignored.
func ComparePositions(stored, rebuilt domain.Position) []FieldDivergence {
	var d []FieldDivergence
	add := func(field string, expected, actual any) {
		d = append(d, FieldDivergence{Field: field, Expected: expected, Actual: actual})
	}

	if stored.Direction != rebuilt.Direction {
		add("direction", stored.Direction, rebuilt.Direction)
	}
	if stored.Status != rebuilt.Status {
		add("status", stored.Status, rebuilt.Status)
	}
	if stored.TotalQuantity != rebuilt.TotalQuantity {
		add("total_quantity", stored.TotalQuantity, rebuilt.TotalQuantity)
	}
	if stored.MaxQuantity != rebuilt.MaxQuantity {
		add("max_quantity", stored.MaxQuantity, rebuilt.MaxQuantity)
	}
	if !floatEquals(stored.AverageEntryPrice, rebuilt.AverageEntryPrice) {
		add("average_entry_price", stored.AverageEntryPrice, rebuilt.AverageEntryPrice)
	}
	if !floatPtrEquals(stored.AverageExitPrice, rebuilt.AverageExitPrice) {
		add("average_exit_price", stored.AverageExitPrice, rebuilt.AverageExitPrice)
	}
	if !floatEquals(stored.TotalPointsPnL, rebuilt.TotalPointsPnL) {
		add("total_points_pnl", stored.TotalPointsPnL, rebuilt.TotalPointsPnL)
	}
	if !floatEquals(stored.TotalDollarsPnL, rebuilt.TotalDollarsPnL) {
		add("total_dollars_pnl", stored.TotalDollarsPnL, rebuilt.TotalDollarsPnL)
	}
	if !floatEquals(stored.TotalCommission, rebuilt.TotalCommission) {
		add("total_commission", stored.TotalCommission, rebuilt.TotalCommission)
	}
	if stored.ExecutionCount != rebuilt.ExecutionCount {
		add("execution_count", stored.ExecutionCount, rebuilt.ExecutionCount)
	}
	if stored.EntryTime != rebuilt.EntryTime {
		add("entry_time", stored.EntryTime, rebuilt.EntryTime)
	}
	if !intPtrEquals(stored.ExitTime, rebuilt.ExitTime) {
		add("exit_time", stored.ExitTime, rebuilt.ExitTime)
	}
	return d
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}

// floatPtrEquals returns true if both are nil, or both are non-nil and equal.
func floatPtrEquals(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return floatEquals(*a, *b)
}

func intPtrEquals(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
