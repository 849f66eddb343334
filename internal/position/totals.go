package position

import (
	"fmt"
	"math"
	"sort"

	"position-ledger/internal/domain"
	"position-ledger/internal/flow"
	"position-ledger/internal/pnl"
)

// finalize recomputes the totals of cur from all of its fills. Closed
// positions report their peak size as total quantity.
func (b *Builder) finalize(cur *current, closed bool, res *Result) BuiltPosition {
	pos := cur.pos
	fills := append([]domain.Fill(nil), cur.fills...)
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].Time() < fills[j].Time() })

	calc := pnl.Calculate(pos.Direction, fills, b.instruments.Multiplier(pos.Instrument))

	pos.ExecutionCount = len(fills)
	pos.EntryTime = fills[0].Time()
	pos.AverageEntryPrice = calc.AverageEntryPrice
	pos.TotalPointsPnL = calc.PointsPnL
	pos.TotalDollarsPnL = calc.DollarsPnL
	pos.TotalCommission = b.commission(pos.Instrument, fills)
	pos.RiskRewardRatio = riskReward(pos.TotalDollarsPnL, pos.TotalCommission)

	if closed {
		exitTime := fills[0].LastTime()
		for _, f := range fills[1:] {
			exitTime = max(exitTime, f.LastTime())
		}
		exitPrice := calc.AverageExitPrice
		pos.Status = domain.PositionClosed
		pos.AverageExitPrice = &exitPrice
		pos.ExitTime = &exitTime
		pos.TotalQuantity = pos.MaxQuantity
	} else {
		pos.Status = domain.PositionOpen
		pos.AverageExitPrice = nil
		pos.ExitTime = nil
	}

	if calc.UnmatchedExit > 0 || (closed && calc.UnmatchedEntry > 0) {
		res.Diagnostics = append(res.Diagnostics, flow.Diagnostic{
			Code: flow.DiagUnmatchedRemainder,
			Message: fmt.Sprintf("%s %s position left %d entry and %d exit contracts unmatched",
				pos.Group(), pos.Direction, calc.UnmatchedEntry, calc.UnmatchedExit),
			ExecutionID: fills[len(fills)-1].ExecutionID,
		})
	}

	return BuiltPosition{Position: pos, Fills: fills}
}

// commission uses fill-level commissions when present, otherwise the
// configured per-side rate times the contracts traded.
func (b *Builder) commission(instrumentName string, fills []domain.Fill) float64 {
	var total float64
	var contracts int64
	for _, f := range fills {
		total += f.Commission
		contracts += f.Quantity
	}
	if total > 0 {
		return total
	}
	return b.instruments.CommissionPerSide(instrumentName) * float64(contracts)
}

func riskReward(pnlDollars, commission float64) float64 {
	switch {
	case commission <= 0 || pnlDollars == 0:
		return 0
	case pnlDollars > 0:
		return math.Abs(pnlDollars) / commission
	default:
		return commission / math.Abs(pnlDollars)
	}
}
