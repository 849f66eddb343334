package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrPositionInvariant is returned when a position violates its invariants.
var ErrPositionInvariant = errors.New("position invariant violated")

// Direction is the exposure direction of a position.
type Direction string

// Direction constants
const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// DirectionFromSign maps a signed running quantity to a direction.
func DirectionFromSign(qty int64) Direction {
	if qty < 0 {
		return DirectionShort
	}
	return DirectionLong
}

// IsEntry reports whether a side opens exposure for the direction.
func (d Direction) IsEntry(s Side) bool {
	if d == DirectionShort {
		return s.IsSell()
	}
	return s.IsBuy()
}

// IsExit reports whether a side closes exposure for the direction.
func (d Direction) IsExit(s Side) bool {
	if d == DirectionShort {
		return s.IsBuy()
	}
	return s.IsSell()
}

// PositionStatus is the lifecycle status of a position.
type PositionStatus string

// PositionStatus constants
const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is the aggregate built from the fills of one (account, instrument)
// pair between two flat points. It owns its derived totals.
// Corresponds to positions table in PostgreSQL.
type Position struct {
	ID         int64 // BIGSERIAL primary key, 0 until created
	Account    string
	Instrument string
	Direction  Direction
	Status     PositionStatus

	// TotalQuantity is the current open size while open and the final closed
	// (peak) size once closed. It is never a cumulative traded quantity.
	TotalQuantity int64
	MaxQuantity   int64 // high-water mark of |running quantity|

	AverageEntryPrice float64
	AverageExitPrice  *float64 // nil while open
	TotalPointsPnL    float64
	TotalDollarsPnL   float64
	TotalCommission   float64
	RiskRewardRatio   float64
	ExecutionCount    int

	EntryTime int64  // Unix ms
	ExitTime  *int64 // nil while open

	// Integrity metadata
	LastValidatedAt  *int64
	ValidationStatus ValidationStatus
	IntegrityScore   float64 // 0-100

	CreatedAt int64
	UpdatedAt int64
}

// Group returns the (account, instrument) pair of the position.
func (p Position) Group() Group {
	return Group{Account: p.Account, Instrument: p.Instrument}
}

// IsClosed reports whether the position is closed.
func (p Position) IsClosed() bool {
	return p.Status == PositionClosed
}

// Clone returns a deep copy so that stages never share pointer fields.
func (p Position) Clone() Position {
	out := p
	out.AverageExitPrice = cloneFloat(p.AverageExitPrice)
	out.ExitTime = cloneInt(p.ExitTime)
	out.LastValidatedAt = cloneInt(p.LastValidatedAt)
	return out
}

// CheckInvariants verifies total >= 0, max >= total and average entry >= 0.
func (p Position) CheckInvariants() error {
	if p.TotalQuantity < 0 {
		return fmt.Errorf("%w: total_quantity %d < 0", ErrPositionInvariant, p.TotalQuantity)
	}
	if p.MaxQuantity < p.TotalQuantity {
		return fmt.Errorf("%w: max_quantity %d < total_quantity %d", ErrPositionInvariant, p.MaxQuantity, p.TotalQuantity)
	}
	if p.AverageEntryPrice < 0 {
		return fmt.Errorf("%w: average_entry_price %v < 0", ErrPositionInvariant, p.AverageEntryPrice)
	}
	return nil
}

// QuantitySummary is the quantity profile of a set of executions replayed in time order.
type QuantitySummary struct {
	Bought int64 // sum of buy-family quantities
	Sold   int64 // sum of sell-family quantities
	Peak   int64 // high-water mark of |running quantity|
}

// SummarizeQuantities replays executions ordered by (timestamp, id).
func SummarizeQuantities(execs []*Execution) QuantitySummary {
	ordered := make([]*Execution, 0, len(execs))
	for _, e := range execs {
		if e != nil {
			ordered = append(ordered, e)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp != ordered[j].Timestamp {
			return ordered[i].Timestamp < ordered[j].Timestamp
		}
		return ordered[i].ID < ordered[j].ID
	})

	var s QuantitySummary
	var running int64
	for _, e := range ordered {
		switch {
		case e.Side.IsBuy():
			s.Bought += e.Quantity
		case e.Side.IsSell():
			s.Sold += e.Quantity
		}
		running += e.SignedQuantity()
		if abs64(running) > s.Peak {
			s.Peak = abs64(running)
		}
	}
	return s
}

// Net returns |bought - sold|.
func (s QuantitySummary) Net() int64 {
	return abs64(s.Bought - s.Sold)
}

// Expected returns the total_quantity a position with the given status should carry.
func (s QuantitySummary) Expected(status PositionStatus) int64 {
	if status == PositionClosed {
		return s.Peak
	}
	return s.Net()
}

// PositionFilter narrows position queries. Empty fields match everything.
type PositionFilter struct {
	Account    string
	Instrument string
	Status     PositionStatus
}

// Matches reports whether p satisfies the filter.
func (f PositionFilter) Matches(p *Position) bool {
	if f.Account != "" && p.Account != f.Account {
		return false
	}
	if f.Instrument != "" && p.Instrument != f.Instrument {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

// PositionStatistics summarizes a filtered set of positions.
type PositionStatistics struct {
	TotalPositions  int
	OpenPositions   int
	ClosedPositions int
	Winners         int // closed with dollars P&L > 0
	Losers          int // closed with dollars P&L < 0
	TotalDollarsPnL float64
	TotalCommission float64
	WinRate         float64 // winners / closed
}

// Add accumulates one position into the statistics.
func (s *PositionStatistics) Add(p *Position) {
	s.TotalPositions++
	s.TotalDollarsPnL += p.TotalDollarsPnL
	s.TotalCommission += p.TotalCommission
	if !p.IsClosed() {
		s.OpenPositions++
		return
	}
	s.ClosedPositions++
	switch {
	case p.TotalDollarsPnL > 0:
		s.Winners++
	case p.TotalDollarsPnL < 0:
		s.Losers++
	}
	s.WinRate = float64(s.Winners) / float64(s.ClosedPositions)
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
