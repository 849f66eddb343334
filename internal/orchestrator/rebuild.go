package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"position-ledger/internal/domain"
	"position-ledger/internal/flow"
	"position-ledger/internal/integrity"
	"position-ledger/internal/position"
)

// RebuildResult describes the rebuild of one (account, instrument) group.
type RebuildResult struct {
	Group       domain.Group
	Deleted     int
	PositionIDs []int64
	Diagnostics []flow.Diagnostic
	Sequence    flow.SequenceCheck
}

// RebuildSummary aggregates RebuildAll.
type RebuildSummary struct {
	Groups    []RebuildResult
	Positions int
	Deleted   int
}

// RebuildGroup deletes the positions and links of a group and recreates them
// from its executions. Running it twice yields the same positions.
func (o *Orchestrator) RebuildGroup(ctx context.Context, group domain.Group) (*RebuildResult, error) {
	log := o.logger.WithFields(logrus.Fields{"account": group.Account, "instrument": group.Instrument})

	release, err := o.locker.Acquire(ctx, "group:"+group.String())
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := o.rebuildGroup(ctx, log, group)
	o.metrics.RecordGroupRebuild(err)
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: %w", group, err)
	}
	return res, nil
}

func (o *Orchestrator) rebuildGroup(ctx context.Context, log logrus.FieldLogger, group domain.Group) (*RebuildResult, error) {
	execs, err := o.executions.ListFills(ctx, group.Account, group.Instrument)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}

	existing, err := o.positions.ListByGroup(ctx, group.Account, group.Instrument)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	ids := make([]int64, 0, len(existing))
	for _, p := range existing {
		ids = append(ids, p.ID)
	}
	if err := o.executions.UnlinkPositions(ctx, ids); err != nil {
		return nil, fmt.Errorf("unlink positions: %w", err)
	}
	deleted, err := o.positions.DeleteMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("delete positions: %w", err)
	}

	builder := position.NewBuilder(o.instruments, log).WithValidation(o.validator, o.buildSink(log))
	built := builder.Build(group.Account, group.Instrument, domain.FillsFromExecutions(execs))

	res := &RebuildResult{
		Group:       group,
		Deleted:     deleted,
		Diagnostics: built.Diagnostics,
		Sequence:    built.Sequence,
	}
	for _, d := range built.Diagnostics {
		o.metrics.RecordDiagnostic(d.Code)
	}

	now := o.nowMs()
	for _, bp := range built.Positions {
		p := bp.Position
		p.CreatedAt = now
		p.UpdatedAt = now
		id, err := o.positions.Create(ctx, &p)
		if err != nil {
			return nil, fmt.Errorf("create position: %w", err)
		}
		if err := o.executions.LinkPosition(ctx, bp.Links(id)); err != nil {
			return nil, fmt.Errorf("link position %d: %w", id, err)
		}
		res.PositionIDs = append(res.PositionIDs, id)
		o.metrics.RecordPositionBuilt(p.Status)
	}

	log.WithFields(logrus.Fields{
		"executions": len(execs),
		"deleted":    deleted,
		"created":    len(res.PositionIDs),
	}).Info("group rebuilt")
	return res, nil
}

// buildSink logs positions that fail validation before they are persisted.
func (o *Orchestrator) buildSink(log logrus.FieldLogger) position.ValidationSink {
	return func(bp position.BuiltPosition, report integrity.Report) error {
		o.metrics.RecordValidation("build", report.Result.Status, report.Issues)
		if report.Result.Status == domain.ValidationPassed {
			return nil
		}
		log.WithFields(logrus.Fields{
			"position": bp.String(),
			"status":   report.Result.Status,
			"issues":   len(report.Issues),
			"score":    report.Score,
		}).Warn("built position failed validation")
		return nil
	}
}

// RebuildAll rebuilds every group with at most Workers groups in flight.
// The first failing group cancels the remaining ones.
func (o *Orchestrator) RebuildAll(ctx context.Context) (*RebuildSummary, error) {
	groups, err := o.executions.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	results := make([]RebuildResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	var mu sync.Mutex
	summary := &RebuildSummary{}
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			res, err := o.RebuildGroup(gctx, group)
			if err != nil {
				return err
			}
			results[i] = *res
			mu.Lock()
			summary.Positions += len(res.PositionIDs)
			summary.Deleted += res.Deleted
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary.Groups = results
	o.metrics.RecordRebuildAll()
	o.logger.WithFields(logrus.Fields{
		"groups":    len(groups),
		"positions": summary.Positions,
	}).Info("rebuild completed")
	return summary, nil
}
