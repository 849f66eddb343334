package flow

import (
	"testing"

	"position-ledger/internal/domain"
)

func fill(id int64, side domain.Side, qty int64, price float64, t int64) domain.Fill {
	return domain.Fill{
		ExecutionID: id,
		Account:     "acct",
		Instrument:  "NQ",
		Side:        side,
		Quantity:    qty,
		EntryPrice:  &price,
		EntryTime:   t,
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestAnalyze_Classification(t *testing.T) {
	tests := []struct {
		name  string
		fills []domain.Fill
		want  []EventKind
		final int64
	}{
		{
			name: "simple round trip",
			fills: []domain.Fill{
				fill(1, domain.SideBuy, 5, 100, 1),
				fill(2, domain.SideSell, 5, 105, 2),
			},
			want:  []EventKind{EventStart, EventClose},
			final: 0,
		},
		{
			name: "scale in and out",
			fills: []domain.Fill{
				fill(1, domain.SideBuy, 2, 100, 1),
				fill(2, domain.SideBuy, 3, 101, 2),
				fill(3, domain.SideSell, 4, 102, 3),
				fill(4, domain.SideSell, 1, 103, 4),
			},
			want:  []EventKind{EventStart, EventModify, EventModify, EventClose},
			final: 0,
		},
		{
			name: "reversal long to short",
			fills: []domain.Fill{
				fill(1, domain.SideBuy, 10, 100, 1),
				fill(2, domain.SideSell, 15, 90, 2),
			},
			want:  []EventKind{EventStart, EventReversal},
			final: -5,
		},
		{
			name: "short with buy to cover",
			fills: []domain.Fill{
				fill(1, domain.SideSellShort, 3, 100, 1),
				fill(2, domain.SideBuyToCover, 3, 98, 2),
			},
			want:  []EventKind{EventStart, EventClose},
			final: 0,
		},
		{
			name: "unsorted input is sorted by time",
			fills: []domain.Fill{
				fill(2, domain.SideSell, 5, 105, 20),
				fill(1, domain.SideBuy, 5, 100, 10),
			},
			want:  []EventKind{EventStart, EventClose},
			final: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(tt.fills)
			got := kinds(a.Events)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d events, got %d (%v)", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
			if a.FinalQty != tt.final {
				t.Errorf("expected final qty %d, got %d", tt.final, a.FinalQty)
			}
		})
	}
}

func TestAnalyze_StableTieBreak(t *testing.T) {
	fills := []domain.Fill{
		fill(1, domain.SideBuy, 1, 100, 5),
		fill(2, domain.SideBuy, 1, 100, 5),
		fill(3, domain.SideSell, 2, 100, 5),
	}
	a := Analyze(fills)
	for i, e := range a.Events {
		if e.Fill.ExecutionID != int64(i+1) {
			t.Errorf("event %d: expected execution %d, got %d", i, i+1, e.Fill.ExecutionID)
		}
	}
}

func TestAnalyze_UnrecognizedSide(t *testing.T) {
	fills := []domain.Fill{
		fill(1, domain.SideBuy, 2, 100, 1),
		fill(2, domain.Side("exercise"), 2, 100, 2),
		fill(3, domain.SideSell, 2, 101, 3),
	}
	a := Analyze(fills)

	if len(a.Events) != 2 {
		t.Fatalf("expected 2 events (no event for zero change), got %d", len(a.Events))
	}
	if len(a.Diagnostics) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(a.Diagnostics))
	}
	if a.Diagnostics[0].Code != DiagUnrecognizedSide || a.Diagnostics[0].ExecutionID != 2 {
		t.Errorf("unexpected diagnostic: %+v", a.Diagnostics[0])
	}
}

func TestAnalyze_FlowConservation(t *testing.T) {
	fills := []domain.Fill{
		fill(1, domain.SideBuy, 3, 100, 1),
		fill(2, domain.SideBuy, 2, 100, 2),
		fill(3, domain.SideSell, 5, 100, 3),
		fill(4, domain.SideSellShort, 4, 100, 4),
		fill(5, domain.SideBuyToCover, 7, 100, 5),
		fill(6, domain.SideSell, 1, 100, 6),
	}
	a := Analyze(fills)

	// The signed changes accumulated since the last flat point equal the
	// running quantity reported by the last event.
	var sinceFlat int64
	for _, e := range a.Events {
		switch e.Kind {
		case EventClose:
			sinceFlat = 0
		case EventReversal:
			sinceFlat = e.RunningQuantity
		default:
			sinceFlat += e.RunningQuantity - e.PreviousQuantity
		}
		if e.Kind != EventClose && e.Kind != EventReversal && sinceFlat != e.RunningQuantity {
			t.Errorf("conservation broken at execution %d: since flat %d, running %d",
				e.Fill.ExecutionID, sinceFlat, e.RunningQuantity)
		}
	}

	last := a.Events[len(a.Events)-1]
	if last.RunningQuantity != a.FinalQty {
		t.Errorf("final qty %d does not match last event %d", a.FinalQty, last.RunningQuantity)
	}

	var total int64
	for _, f := range fills {
		total += f.SignedQuantity()
	}
	if total != a.FinalQty {
		t.Errorf("expected final qty %d, got %d", total, a.FinalQty)
	}
}

func TestValidateSequence(t *testing.T) {
	tests := []struct {
		name          string
		events        []Event
		opens, closes int
		warnings      []string
	}{
		{
			name:   "terminated",
			events: []Event{{Kind: EventStart}, {Kind: EventModify}, {Kind: EventClose}},
			opens:  1, closes: 1,
		},
		{
			name:     "reversal counts as close and open",
			events:   []Event{{Kind: EventStart}, {Kind: EventReversal}},
			opens:    2,
			closes:   1,
			warnings: []string{DiagUnterminated},
		},
		{
			name:     "malformed",
			events:   []Event{{Kind: EventClose}},
			opens:    0,
			closes:   1,
			warnings: []string{DiagMalformed},
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ValidateSequence(tt.events)
			if c.Opens != tt.opens || c.Closes != tt.closes {
				t.Errorf("expected %d/%d opens/closes, got %d/%d", tt.opens, tt.closes, c.Opens, c.Closes)
			}
			if len(c.Warnings) != len(tt.warnings) {
				t.Fatalf("expected %d warnings, got %d: %+v", len(tt.warnings), len(c.Warnings), c.Warnings)
			}
			for i, w := range tt.warnings {
				if c.Warnings[i].Code != w {
					t.Errorf("warning %d: expected %s, got %s", i, w, c.Warnings[i].Code)
				}
			}
			if c.Valid() != (len(tt.warnings) == 0) {
				t.Errorf("Valid() mismatch")
			}
		})
	}
}
