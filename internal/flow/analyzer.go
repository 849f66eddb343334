// Package flow classifies the running signed quantity of a fill sequence into
// position lifecycle events.
package flow

import (
	"fmt"
	"sort"

	"position-ledger/internal/domain"
)

// EventKind is the classified transition of the running quantity.
type EventKind string

// EventKind constants
const (
	EventStart    EventKind = "start"    // 0 -> nonzero
	EventModify   EventKind = "modify"   // nonzero -> nonzero, same sign
	EventClose    EventKind = "close"    // nonzero -> 0
	EventReversal EventKind = "reversal" // sign flip: close and open in one fill
)

// Event is one lifecycle transition. Events are transient and never stored.
type Event struct {
	Kind             EventKind
	Fill             domain.Fill
	PreviousQuantity int64 // signed running quantity before the fill
	RunningQuantity  int64 // signed running quantity after the fill
	Timestamp        int64
}

// Diagnostic codes
const (
	DiagUnrecognizedSide   = "unrecognized_side"
	DiagUnterminated       = "unterminated_sequence"
	DiagMalformed          = "malformed_sequence"
	DiagEventWithoutOpen   = "event_without_open_position"
	DiagUnmatchedRemainder = "unmatched_remainder"
)

// Diagnostic is a non-fatal anomaly found while processing fills.
type Diagnostic struct {
	Code        string
	Message     string
	ExecutionID int64
}

// Analysis is the result of Analyze.
type Analysis struct {
	Events      []Event
	Diagnostics []Diagnostic
	FinalQty    int64 // signed running quantity after the last fill
}

// Analyze sorts fills by time (stable on original order) and classifies every
// change of the running signed quantity. Fills with an unrecognized side do not
// move the running quantity and produce a diagnostic instead of an event.
func Analyze(fills []domain.Fill) Analysis {
	ordered := make([]domain.Fill, len(fills))
	copy(ordered, fills)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Time() < ordered[j].Time()
	})

	var out Analysis
	var running int64

	for _, f := range ordered {
		change := f.SignedQuantity()
		if change == 0 {
			if f.Side.Sign() == 0 {
				out.Diagnostics = append(out.Diagnostics, Diagnostic{
					Code:        DiagUnrecognizedSide,
					Message:     fmt.Sprintf("unrecognized side %q treated as zero quantity change", f.Side),
					ExecutionID: f.ExecutionID,
				})
			}
			continue
		}

		prev := running
		running += change

		out.Events = append(out.Events, Event{
			Kind:             classify(prev, running),
			Fill:             f,
			PreviousQuantity: prev,
			RunningQuantity:  running,
			Timestamp:        f.Time(),
		})
	}

	out.FinalQty = running
	return out
}

func classify(prev, next int64) EventKind {
	switch {
	case prev == 0:
		return EventStart
	case next == 0:
		return EventClose
	case (prev > 0) == (next > 0):
		return EventModify
	default:
		return EventReversal
	}
}

// SequenceCheck is the result of ValidateSequence.
type SequenceCheck struct {
	Opens         int
	Closes        int
	OpenPositions int // opens - closes
	Warnings      []Diagnostic
}

// Valid reports whether the sequence produced no warnings.
func (c SequenceCheck) Valid() bool {
	return len(c.Warnings) == 0
}

// ValidateSequence recounts opens and closes, treating a reversal as one close
// plus one open. Unterminated and malformed sequences are warnings, not errors.
func ValidateSequence(events []Event) SequenceCheck {
	var c SequenceCheck
	for _, e := range events {
		switch e.Kind {
		case EventStart:
			c.Opens++
		case EventClose:
			c.Closes++
		case EventReversal:
			c.Closes++
			c.Opens++
		case EventModify:
		}
	}
	c.OpenPositions = c.Opens - c.Closes

	if c.OpenPositions > 0 {
		c.Warnings = append(c.Warnings, Diagnostic{
			Code:    DiagUnterminated,
			Message: fmt.Sprintf("sequence ends with %d open position(s)", c.OpenPositions),
		})
	}
	if c.Closes > c.Opens {
		c.Warnings = append(c.Warnings, Diagnostic{
			Code:    DiagMalformed,
			Message: fmt.Sprintf("sequence has %d closes for %d opens", c.Closes, c.Opens),
		})
	}
	return c
}
