package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidExecution is returned when an execution violates its invariants.
var ErrInvalidExecution = errors.New("invalid execution")

// Side is the side-of-market of an execution.
type Side string

// Side constants
const (
	SideBuy        Side = "buy"
	SideSell       Side = "sell"
	SideBuyToCover Side = "buy_to_cover"
	SideSellShort  Side = "sell_short"
)

// ParseSide normalizes broker spellings ("Buy", "BUY", "Buy to Cover", "SellShort").
// Returns false for anything that is not one of the four known sides.
func ParseSide(s string) (Side, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "buy", "b", "bot", "bought":
		return SideBuy, true
	case "sell", "s", "sld", "sold":
		return SideSell, true
	case "buy_to_cover", "buytocover", "btc":
		return SideBuyToCover, true
	case "sell_short", "sellshort", "ss", "short":
		return SideSellShort, true
	}
	return Side(s), false
}

// Sign returns +1 for buy-family sides, -1 for sell-family sides and 0 otherwise.
func (s Side) Sign() int64 {
	switch s {
	case SideBuy, SideBuyToCover:
		return 1
	case SideSell, SideSellShort:
		return -1
	}
	return 0
}

// IsBuy reports whether the side adds to long exposure.
func (s Side) IsBuy() bool { return s.Sign() > 0 }

// IsSell reports whether the side adds to short exposure.
func (s Side) IsSell() bool { return s.Sign() < 0 }

// Execution is one matched order execution. It is an immutable fact owned by the
// import/persistence layer; positions only reference it.
// Corresponds to executions table in PostgreSQL.
type Execution struct {
	ID         int64   // BIGSERIAL primary key
	ExternalID string  // broker execution id
	Account    string  // trading account
	Instrument string  // contract symbol, e.g. "NQ"
	Side       Side    // buy | sell | buy_to_cover | sell_short
	Quantity   int64   // contracts, > 0
	Price      float64 // fill price, > 0
	Timestamp  int64   // Unix timestamp in milliseconds
	Commission float64 // fill-level commission, may be 0

	PositionID *int64 // last position the execution was linked to (nullable)
	Processed  bool   // consumed by a position build
	Deleted    bool   // soft delete
	CreatedAt  int64  // record creation timestamp (ms)
}

// Validate checks the execution invariants. It never coerces values.
func (e *Execution) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil execution", ErrInvalidExecution)
	}
	if e.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidExecution, e.Quantity)
	}
	if e.Price <= 0 {
		return fmt.Errorf("%w: price must be positive, got %v", ErrInvalidExecution, e.Price)
	}
	if e.Account == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidExecution)
	}
	if e.Instrument == "" {
		return fmt.Errorf("%w: instrument is required", ErrInvalidExecution)
	}
	if e.Side.Sign() == 0 {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidExecution, e.Side)
	}
	return nil
}

// SignedQuantity returns +quantity for buys, -quantity for sells.
func (e *Execution) SignedQuantity() int64 {
	return e.Side.Sign() * e.Quantity
}

// ExecutionLink allocates part (or all) of an execution to a position.
// A reversal fill is linked to two positions with the quantities summing to the fill.
// Corresponds to position_executions table in PostgreSQL.
type ExecutionLink struct {
	PositionID  int64
	ExecutionID int64
	Quantity    int64
}

// Group identifies the (account, instrument) pair positions are built for.
type Group struct {
	Account    string
	Instrument string
}

// String returns "account/instrument".
func (g Group) String() string {
	return g.Account + "/" + g.Instrument
}
