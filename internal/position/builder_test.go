package position

import (
	"errors"
	"math"
	"testing"

	"position-ledger/internal/domain"
	"position-ledger/internal/flow"
	"position-ledger/internal/instrument"
	"position-ledger/internal/integrity"
)

const eps = 1e-9

func px(v float64) *float64 { return &v }

func fill(id int64, side domain.Side, qty int64, price float64, t int64) domain.Fill {
	return domain.Fill{
		ExecutionID: id,
		Account:     "ACC1",
		Instrument:  "NQ",
		Side:        side,
		Quantity:    qty,
		EntryPrice:  px(price),
		EntryTime:   t,
	}
}

func newTestBuilder(multiplier, commission float64) *Builder {
	cfg := instrument.NewStore(map[string]float64{"NQ": multiplier}, map[string]float64{"NQ": commission})
	return NewBuilder(cfg, nil)
}

func approx(a, b float64) bool { return math.Abs(a-b) <= eps }

func TestBuild_SimpleRoundTrip(t *testing.T) {
	res := newTestBuilder(20, 0).Build("ACC1", "NQ", []domain.Fill{
		fill(1, domain.SideBuy, 5, 100, 1),
		fill(2, domain.SideSell, 5, 105, 2),
	})

	if len(res.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(res.Positions))
	}
	p := res.Positions[0].Position
	if p.Status != domain.PositionClosed || p.Direction != domain.DirectionLong {
		t.Errorf("expected closed long, got %s %s", p.Status, p.Direction)
	}
	if p.TotalQuantity != 5 || p.MaxQuantity != 5 {
		t.Errorf("expected total/max 5/5, got %d/%d", p.TotalQuantity, p.MaxQuantity)
	}
	if !approx(p.AverageEntryPrice, 100) || p.AverageExitPrice == nil || !approx(*p.AverageExitPrice, 105) {
		t.Errorf("unexpected prices %f / %v", p.AverageEntryPrice, p.AverageExitPrice)
	}
	if !approx(p.TotalPointsPnL, 5) {
		t.Errorf("expected points 5, got %f", p.TotalPointsPnL)
	}
	if !approx(p.TotalDollarsPnL, 5*5*20) {
		t.Errorf("expected dollars 500, got %f", p.TotalDollarsPnL)
	}
	if p.EntryTime != 1 || p.ExitTime == nil || *p.ExitTime != 2 {
		t.Errorf("unexpected times %d / %v", p.EntryTime, p.ExitTime)
	}
	if p.ExecutionCount != 2 {
		t.Errorf("expected 2 executions, got %d", p.ExecutionCount)
	}
	if !res.Sequence.Valid() {
		t.Errorf("expected valid sequence, got %+v", res.Sequence.Warnings)
	}
}

func TestBuild_Reversal(t *testing.T) {
	res := newTestBuilder(1, 0).Build("ACC1", "NQ", []domain.Fill{
		fill(1, domain.SideBuy, 10, 100, 1),
		fill(2, domain.SideSell, 15, 90, 2),
	})

	if len(res.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(res.Positions))
	}

	long := res.Positions[0].Position
	if long.Direction != domain.DirectionLong || long.Status != domain.PositionClosed {
		t.Errorf("expected closed long, got %s %s", long.Status, long.Direction)
	}
	if long.TotalQuantity != 10 {
		t.Errorf("expected closed qty 10, got %d", long.TotalQuantity)
	}
	if !approx(long.TotalDollarsPnL, -100) {
		t.Errorf("expected loss of 100, got %f", long.TotalDollarsPnL)
	}

	short := res.Positions[1].Position
	if short.Direction != domain.DirectionShort || short.Status != domain.PositionOpen {
		t.Errorf("expected open short, got %s %s", short.Status, short.Direction)
	}
	if short.TotalQuantity != 5 || !approx(short.AverageEntryPrice, 90) {
		t.Errorf("expected short 5 @ 90, got %d @ %f", short.TotalQuantity, short.AverageEntryPrice)
	}
	if short.AverageExitPrice != nil || short.ExitTime != nil {
		t.Errorf("open position must not carry exit fields")
	}

	closeLinks := res.Positions[0].Links(11)
	openLinks := res.Positions[1].Links(12)
	if closeLinks[1].ExecutionID != 2 || closeLinks[1].Quantity != 10 {
		t.Errorf("expected reversing fill allocated 10 to the closed long, got %+v", closeLinks[1])
	}
	if openLinks[0].ExecutionID != 2 || openLinks[0].Quantity != 5 {
		t.Errorf("expected reversing fill allocated 5 to the short, got %+v", openLinks[0])
	}
}

func TestBuild_ReversalDecomposition(t *testing.T) {
	withReversal := []domain.Fill{
		fill(1, domain.SideBuy, 3, 100, 1),
		fill(2, domain.SideBuy, 2, 101, 2),
		fill(3, domain.SideSell, 8, 104, 3),
		fill(4, domain.SideBuy, 3, 99, 4),
	}
	split := []domain.Fill{
		fill(1, domain.SideBuy, 3, 100, 1),
		fill(2, domain.SideBuy, 2, 101, 2),
		fill(3, domain.SideSell, 5, 104, 3),
		fill(3, domain.SideSellShort, 3, 104, 3),
		fill(4, domain.SideBuy, 3, 99, 4),
	}

	b := newTestBuilder(2, 0)
	a := b.Build("ACC1", "NQ", withReversal)
	s := b.Build("ACC1", "NQ", split)

	if len(a.Positions) != len(s.Positions) {
		t.Fatalf("expected same position count, got %d vs %d", len(a.Positions), len(s.Positions))
	}
	for i := range a.Positions {
		pa, ps := a.Positions[i].Position, s.Positions[i].Position
		if pa.Direction != ps.Direction || pa.Status != ps.Status || pa.TotalQuantity != ps.TotalQuantity {
			t.Errorf("position %d differs: %+v vs %+v", i, pa, ps)
		}
		if !approx(pa.TotalDollarsPnL, ps.TotalDollarsPnL) || !approx(pa.AverageEntryPrice, ps.AverageEntryPrice) {
			t.Errorf("position %d P&L differs: %f vs %f", i, pa.TotalDollarsPnL, ps.TotalDollarsPnL)
		}
	}
}

func TestBuild_ModifyTracksCurrentSize(t *testing.T) {
	res := newTestBuilder(1, 0).Build("ACC1", "NQ", []domain.Fill{
		fill(1, domain.SideBuy, 2, 100, 1),
		fill(2, domain.SideBuy, 3, 102, 2),
		fill(3, domain.SideSell, 1, 105, 3),
	})

	if len(res.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(res.Positions))
	}
	p := res.Positions[0].Position
	if p.Status != domain.PositionOpen {
		t.Fatalf("expected open, got %s", p.Status)
	}
	if p.TotalQuantity != 4 || p.MaxQuantity != 5 {
		t.Errorf("expected total 4 max 5, got %d/%d", p.TotalQuantity, p.MaxQuantity)
	}
	if p.ExecutionCount != 3 {
		t.Errorf("expected 3 executions, got %d", p.ExecutionCount)
	}
	if !approx(p.AverageEntryPrice, 101.2) {
		t.Errorf("expected weighted entry 101.2, got %f", p.AverageEntryPrice)
	}
	// One contract realized FIFO against the first lot.
	if !approx(p.TotalDollarsPnL, 5) {
		t.Errorf("expected realized 5, got %f", p.TotalDollarsPnL)
	}
	if res.Sequence.Valid() {
		t.Errorf("expected unterminated warning for an open position")
	}
}

func TestBuild_ClosedTotalIsPeak(t *testing.T) {
	res := newTestBuilder(1, 0).Build("ACC1", "NQ", []domain.Fill{
		fill(1, domain.SideSellShort, 2, 100, 1),
		fill(2, domain.SideSellShort, 4, 101, 2),
		fill(3, domain.SideBuyToCover, 3, 99, 3),
		fill(4, domain.SideBuyToCover, 3, 98, 4),
	})

	if len(res.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(res.Positions))
	}
	p := res.Positions[0].Position
	if p.Direction != domain.DirectionShort || p.Status != domain.PositionClosed {
		t.Fatalf("expected closed short, got %s %s", p.Status, p.Direction)
	}
	if p.TotalQuantity != 6 || p.MaxQuantity != 6 {
		t.Errorf("expected closed size 6, got %d/%d", p.TotalQuantity, p.MaxQuantity)
	}
	if err := p.CheckInvariants(); err != nil {
		t.Errorf("invariants violated: %v", err)
	}
}

func TestBuild_Commission(t *testing.T) {
	fills := []domain.Fill{
		fill(1, domain.SideBuy, 2, 100, 1),
		fill(2, domain.SideSell, 2, 110, 2),
	}

	configured := newTestBuilder(1, 2.5).Build("ACC1", "NQ", fills).Positions[0].Position
	if !approx(configured.TotalCommission, 10) {
		t.Errorf("expected configured commission 2.5*4=10, got %f", configured.TotalCommission)
	}
	if !approx(configured.RiskRewardRatio, 2) {
		t.Errorf("expected risk/reward 20/10=2, got %f", configured.RiskRewardRatio)
	}

	fills[0].Commission = 1
	fills[1].Commission = 1.5
	explicit := newTestBuilder(1, 2.5).Build("ACC1", "NQ", fills).Positions[0].Position
	if !approx(explicit.TotalCommission, 2.5) {
		t.Errorf("expected fill-level commission 2.5, got %f", explicit.TotalCommission)
	}

	noCommission := newTestBuilder(1, 0).Build("ACC1", "NQ", fills[:0:0])
	if len(noCommission.Positions) != 0 {
		t.Errorf("expected no positions for empty input")
	}
}

func TestBuild_ReversalSplitsCommission(t *testing.T) {
	fills := []domain.Fill{
		fill(1, domain.SideBuy, 10, 100, 1),
		fill(2, domain.SideSell, 15, 90, 2),
	}
	fills[0].Commission = 10
	fills[1].Commission = 15

	res := newTestBuilder(1, 0).Build("ACC1", "NQ", fills)
	if !approx(res.Positions[0].Position.TotalCommission, 20) {
		t.Errorf("expected closed long commission 10+10, got %f", res.Positions[0].Position.TotalCommission)
	}
	if !approx(res.Positions[1].Position.TotalCommission, 5) {
		t.Errorf("expected short commission 5, got %f", res.Positions[1].Position.TotalCommission)
	}
}

func TestRiskReward(t *testing.T) {
	tests := []struct {
		pnl, commission, want float64
	}{
		{100, 10, 10},
		{-50, 10, 0.2},
		{100, 0, 0},
		{0, 10, 0},
		{-50, 0, 0},
	}
	for _, tt := range tests {
		if got := riskReward(tt.pnl, tt.commission); !approx(got, tt.want) {
			t.Errorf("riskReward(%f, %f) = %f, want %f", tt.pnl, tt.commission, got, tt.want)
		}
	}
}

func TestBuild_UnrecognizedSide(t *testing.T) {
	res := newTestBuilder(1, 0).Build("ACC1", "NQ", []domain.Fill{
		fill(1, domain.SideBuy, 1, 100, 1),
		fill(2, domain.Side("exercise"), 1, 100, 2),
		fill(3, domain.SideSell, 1, 101, 3),
	})

	if len(res.Positions) != 1 || res.Positions[0].Position.ExecutionCount != 2 {
		t.Fatalf("expected one position of two fills, got %+v", res.Positions)
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == flow.DiagUnrecognizedSide && d.ExecutionID == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unrecognized side diagnostic, got %+v", res.Diagnostics)
	}
}

func TestBuild_ValidationHook(t *testing.T) {
	var reports []integrity.Report
	sinkErr := errors.New("sink down")
	b := newTestBuilder(1, 0).WithValidation(integrity.NewValidator(nil), func(_ BuiltPosition, r integrity.Report) error {
		reports = append(reports, r)
		return sinkErr
	})

	res := b.Build("ACC1", "NQ", []domain.Fill{
		fill(1, domain.SideBuy, 10, 100, 1000),
		fill(2, domain.SideSell, 15, 90, 2000),
		fill(3, domain.SideBuyToCover, 2, 95, 3000),
	})

	if len(res.Positions) != 2 {
		t.Fatalf("expected 2 positions despite sink errors, got %d", len(res.Positions))
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	for i, r := range reports {
		if r.Result.Status != domain.ValidationPassed {
			t.Errorf("built position %d failed its own validation: %+v", i, r.Issues)
		}
	}
}
