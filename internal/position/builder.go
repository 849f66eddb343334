// Package position builds position aggregates from the fills of one
// (account, instrument) pair.
package position

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"position-ledger/internal/domain"
	"position-ledger/internal/flow"
	"position-ledger/internal/instrument"
	"position-ledger/internal/integrity"
)

// BuiltPosition is a position together with the fills allocated to it.
// A reversing fill appears in two consecutive positions, each with its share
// of the quantity.
type BuiltPosition struct {
	Position domain.Position
	Fills    []domain.Fill
}

// Links returns the execution allocations of the position.
func (b BuiltPosition) Links(positionID int64) []domain.ExecutionLink {
	links := make([]domain.ExecutionLink, 0, len(b.Fills))
	for _, f := range b.Fills {
		links = append(links, domain.ExecutionLink{
			PositionID:  positionID,
			ExecutionID: f.ExecutionID,
			Quantity:    f.Quantity,
		})
	}
	return links
}

// String renders a one-line summary used in CLI output and logs.
func (b BuiltPosition) String() string {
	p := b.Position
	return fmt.Sprintf("%s %s %s qty=%d max=%d entry=%.4f pnl=%.2f fills=%d",
		p.Group(), p.Direction, p.Status, p.TotalQuantity, p.MaxQuantity, p.AverageEntryPrice, p.TotalDollarsPnL, len(b.Fills))
}

// Result is the output of Build.
type Result struct {
	Positions   []BuiltPosition
	Diagnostics []flow.Diagnostic
	Sequence    flow.SequenceCheck
}

// ValidationSink receives the report of every built position when validation
// is enabled. A returned error is logged and does not abort the build.
type ValidationSink func(built BuiltPosition, report integrity.Report) error

// Builder turns fills into positions.
type Builder struct {
	instruments instrument.Config
	logger      logrus.FieldLogger
	validator   *integrity.Validator
	sink        ValidationSink
}

// NewBuilder creates a builder. A nil logger discards output.
func NewBuilder(instruments instrument.Config, logger logrus.FieldLogger) *Builder {
	if instruments == nil {
		instruments = instrument.NewStore(nil, nil)
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Builder{instruments: instruments, logger: logger}
}

// WithValidation runs validator on every built position and forwards the
// report to sink.
func (b *Builder) WithValidation(validator *integrity.Validator, sink ValidationSink) *Builder {
	b.validator = validator
	b.sink = sink
	return b
}

// current is the position being accumulated.
type current struct {
	pos   domain.Position
	fills []domain.Fill
}

// Build classifies fills and folds the resulting events into positions.
// Fills from other accounts or instruments must be filtered by the caller.
func (b *Builder) Build(account, instrumentName string, fills []domain.Fill) Result {
	log := b.logger.WithFields(logrus.Fields{"account": account, "instrument": instrumentName})

	analysis := flow.Analyze(fills)
	res := Result{
		Diagnostics: append([]flow.Diagnostic(nil), analysis.Diagnostics...),
		Sequence:    flow.ValidateSequence(analysis.Events),
	}
	for _, d := range res.Diagnostics {
		log.WithField("execution_id", d.ExecutionID).Warn(d.Message)
	}
	for _, w := range res.Sequence.Warnings {
		log.Debug(w.Message)
	}

	var cur *current
	for _, ev := range analysis.Events {
		switch ev.Kind {
		case flow.EventStart:
			if cur != nil {
				res.Diagnostics = append(res.Diagnostics, flow.Diagnostic{
					Code:        flow.DiagMalformed,
					Message:     "start event while a position is open, finalizing it as open",
					ExecutionID: ev.Fill.ExecutionID,
				})
				res.Positions = append(res.Positions, b.finalize(cur, false, &res))
			}
			cur = b.open(account, instrumentName, ev.Fill, ev.RunningQuantity)

		case flow.EventModify:
			if cur == nil {
				res.Diagnostics = append(res.Diagnostics, flow.Diagnostic{
					Code:        flow.DiagEventWithoutOpen,
					Message:     "modify event without an open position",
					ExecutionID: ev.Fill.ExecutionID,
				})
				continue
			}
			cur.fills = append(cur.fills, ev.Fill)
			size := abs64(ev.RunningQuantity)
			cur.pos.MaxQuantity = max(cur.pos.MaxQuantity, size)
			cur.pos.TotalQuantity = size
			cur.pos.ExecutionCount = len(cur.fills)

		case flow.EventClose:
			if cur == nil {
				res.Diagnostics = append(res.Diagnostics, flow.Diagnostic{
					Code:        flow.DiagEventWithoutOpen,
					Message:     "close event without an open position",
					ExecutionID: ev.Fill.ExecutionID,
				})
				continue
			}
			cur.fills = append(cur.fills, ev.Fill)
			res.Positions = append(res.Positions, b.finalize(cur, true, &res))
			cur = nil

		case flow.EventReversal:
			closing := ev.Fill.WithQuantity(abs64(ev.PreviousQuantity))
			opening := ev.Fill.WithQuantity(abs64(ev.RunningQuantity))
			if cur != nil {
				cur.fills = append(cur.fills, closing)
				res.Positions = append(res.Positions, b.finalize(cur, true, &res))
			} else {
				res.Diagnostics = append(res.Diagnostics, flow.Diagnostic{
					Code:        flow.DiagEventWithoutOpen,
					Message:     "reversal event without an open position, only the opening part is kept",
					ExecutionID: ev.Fill.ExecutionID,
				})
			}
			cur = b.open(account, instrumentName, opening, ev.RunningQuantity)
		}
	}

	if cur != nil {
		res.Positions = append(res.Positions, b.finalize(cur, false, &res))
	}

	if b.validator != nil {
		b.validate(log, res.Positions)
	}

	log.WithFields(logrus.Fields{
		"fills":     len(fills),
		"positions": len(res.Positions),
		"final_qty": analysis.FinalQty,
	}).Debug("positions built")
	return res
}

func (b *Builder) open(account, instrumentName string, f domain.Fill, running int64) *current {
	size := abs64(running)
	return &current{
		pos: domain.Position{
			Account:        account,
			Instrument:     instrumentName,
			Direction:      domain.DirectionFromSign(running),
			Status:         domain.PositionOpen,
			TotalQuantity:  size,
			MaxQuantity:    size,
			ExecutionCount: 1,
			EntryTime:      f.Time(),
		},
		fills: []domain.Fill{f},
	}
}

func (b *Builder) validate(log logrus.FieldLogger, built []BuiltPosition) {
	for _, bp := range built {
		execs := make([]*domain.Execution, 0, len(bp.Fills))
		for _, f := range bp.Fills {
			execs = append(execs, f.Execution())
		}
		report := b.validator.Validate(bp.Position, execs)
		if b.sink == nil {
			continue
		}
		if err := b.sink(bp, report); err != nil {
			log.WithError(err).WithField("entry_time", bp.Position.EntryTime).Warn("validation sink failed")
		}
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
