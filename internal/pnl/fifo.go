// Package pnl computes realized profit and loss by FIFO lot matching.
package pnl

import (
	"sort"

	"github.com/shopspring/decimal"

	"position-ledger/internal/domain"
)

// Match is one matched (entry lot, exit lot) pair.
type Match struct {
	EntryExecutionID int64
	ExitExecutionID  int64
	EntryPrice       float64
	ExitPrice        float64
	Quantity         int64
	EntryTime        int64
	ExitTime         int64
	Points           float64 // per-unit points, signed by direction
}

// Calculation aggregates the matches of one position.
type Calculation struct {
	Direction         domain.Direction
	PointsPnL         float64 // quantity-weighted per-unit points over matched lots
	DollarsPnL        float64 // sum(qty * points * multiplier)
	MatchedQuantity   int64
	AverageEntryPrice float64 // quantity-weighted over all entries
	AverageExitPrice  float64 // quantity-weighted over all exits
	EntryQuantity     int64
	ExitQuantity      int64
	UnmatchedEntry    int64 // open remainder
	UnmatchedExit     int64 // exits with no entry lot left
	Matches           []Match
}

type lot struct {
	fill      domain.Fill
	price     decimal.Decimal
	remaining int64
}

// Calculate matches entry and exit lots of a position in FIFO order.
// Entries are the sides that open exposure for direction (buys for long,
// sells for short); exits are the opposite family. Fills without any price are
// skipped.
func Calculate(direction domain.Direction, fills []domain.Fill, multiplier float64) Calculation {
	calc := Calculation{Direction: direction}

	var entries, exits []*lot
	for _, f := range fills {
		price, ok := f.Price()
		if !ok || f.Quantity <= 0 {
			continue
		}
		l := &lot{fill: f, price: decimal.NewFromFloat(price), remaining: f.Quantity}
		switch {
		case direction.IsEntry(f.Side):
			entries = append(entries, l)
		case direction.IsExit(f.Side):
			exits = append(exits, l)
		}
	}

	byTime := func(lots []*lot) {
		sort.SliceStable(lots, func(i, j int) bool {
			return lots[i].fill.Time() < lots[j].fill.Time()
		})
	}
	byTime(entries)
	byTime(exits)

	calc.AverageEntryPrice, calc.EntryQuantity = weightedAverage(entries)
	calc.AverageExitPrice, calc.ExitQuantity = weightedAverage(exits)

	if len(entries) == 0 || len(exits) == 0 {
		calc.UnmatchedEntry = calc.EntryQuantity
		calc.UnmatchedExit = calc.ExitQuantity
		return calc
	}

	mult := decimal.NewFromFloat(multiplier)
	pointsQty := decimal.Zero
	dollars := decimal.Zero

	i, j := 0, 0
	for i < len(entries) && j < len(exits) {
		en, ex := entries[i], exits[j]
		qty := min(en.remaining, ex.remaining)

		points := ex.price.Sub(en.price)
		if direction == domain.DirectionShort {
			points = en.price.Sub(ex.price)
		}
		q := decimal.NewFromInt(qty)
		pointsQty = pointsQty.Add(points.Mul(q))
		dollars = dollars.Add(points.Mul(q).Mul(mult))

		calc.Matches = append(calc.Matches, Match{
			EntryExecutionID: en.fill.ExecutionID,
			ExitExecutionID:  ex.fill.ExecutionID,
			EntryPrice:       en.price.InexactFloat64(),
			ExitPrice:        ex.price.InexactFloat64(),
			Quantity:         qty,
			EntryTime:        en.fill.Time(),
			ExitTime:         ex.fill.LastTime(),
			Points:           points.InexactFloat64(),
		})
		calc.MatchedQuantity += qty

		en.remaining -= qty
		ex.remaining -= qty
		if en.remaining == 0 {
			i++
		}
		if ex.remaining == 0 {
			j++
		}
	}

	for ; i < len(entries); i++ {
		calc.UnmatchedEntry += entries[i].remaining
	}
	for ; j < len(exits); j++ {
		calc.UnmatchedExit += exits[j].remaining
	}

	if calc.MatchedQuantity > 0 {
		calc.PointsPnL = pointsQty.Div(decimal.NewFromInt(calc.MatchedQuantity)).InexactFloat64()
	}
	calc.DollarsPnL = dollars.InexactFloat64()
	return calc
}

// weightedAverage returns the quantity-weighted mean price and total quantity.
func weightedAverage(lots []*lot) (float64, int64) {
	var qty int64
	notional := decimal.Zero
	for _, l := range lots {
		qty += l.fill.Quantity
		notional = notional.Add(l.price.Mul(decimal.NewFromInt(l.fill.Quantity)))
	}
	if qty == 0 {
		return 0, 0
	}
	return notional.Div(decimal.NewFromInt(qty)).InexactFloat64(), qty
}
