package verification

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"position-ledger/internal/domain"
	"position-ledger/internal/instrument"
	"position-ledger/internal/position"
	"position-ledger/internal/storage"
)

// ReplayVerifier rebuilds groups in memory and compares them with the stored positions.
type ReplayVerifier struct {
	executions  storage.ExecutionStore
	positions   storage.PositionStore
	instruments instrument.Config
	logger      logrus.FieldLogger
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Executions  storage.ExecutionStore
	Positions   storage.PositionStore
	Instruments instrument.Config
	Logger      logrus.FieldLogger
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	if opts.Instruments == nil {
		opts.Instruments = instrument.NewStore(nil, nil)
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	return &ReplayVerifier{
		executions:  opts.Executions,
		positions:   opts.Positions,
		instruments: opts.Instruments,
		logger:      opts.Logger,
	}
}

// VerifyGroup rebuilds one group and pairs stored and rebuilt positions in
// entry order. Surplus positions on either side are reported as divergent.
func (v *ReplayVerifier) VerifyGroup(ctx context.Context, group domain.Group) (*GroupVerification, error) {
	execs, err := v.executions.ListFills(ctx, group.Account, group.Instrument)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	stored, err := v.positions.ListByGroup(ctx, group.Account, group.Instrument)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	built := position.NewBuilder(v.instruments, v.logger).
		Build(group.Account, group.Instrument, domain.FillsFromExecutions(execs))

	out := &GroupVerification{
		Group:   group,
		Stored:  len(stored),
		Rebuilt: len(built.Positions),
	}
	for i := 0; i < max(len(stored), len(built.Positions)); i++ {
		var res PositionVerification
		switch {
		case i >= len(stored):
			res.Divergences = []FieldDivergence{{Field: "position", Expected: nil, Actual: built.Positions[i].String()}}
		case i >= len(built.Positions):
			res.StoredID = stored[i].ID
			res.Divergences = []FieldDivergence{{Field: "position", Expected: stored[i].ID, Actual: nil}}
		default:
			res.StoredID = stored[i].ID
			res.Divergences = ComparePositions(*stored[i], built.Positions[i].Position)
		}
		res.Match = len(res.Divergences) == 0
		if res.Match {
			out.Matched++
		} else {
			out.Diverged = true
		}
		out.Results = append(out.Results, res)
	}

	if out.Diverged {
		v.logger.WithFields(logrus.Fields{
			"account":    group.Account,
			"instrument": group.Instrument,
			"stored":     out.Stored,
			"rebuilt":    out.Rebuilt,
		}).Warn("stored positions diverge from rebuild")
	}
	return out, nil
}

// VerifyAll verifies every group with executions. A group that cannot be
// loaded is recorded as divergent and does not stop the run.
func (v *ReplayVerifier) VerifyAll(ctx context.Context) (*Report, error) {
	groups, err := v.executions.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	report := &Report{
		TotalGroups: len(groups),
		Groups:      make([]GroupVerification, 0, len(groups)),
	}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := v.VerifyGroup(ctx, g)
		if err != nil {
			report.Groups = append(report.Groups, GroupVerification{Group: g, Diverged: true, ErrString: err.Error()})
			report.DivergentGroups++
			continue
		}
		report.Groups = append(report.Groups, *res)
		if res.Diverged {
			report.DivergentGroups++
		} else {
			report.MatchedGroups++
		}
	}
	return report, nil
}
