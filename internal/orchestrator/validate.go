package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"position-ledger/internal/domain"
	"position-ledger/internal/integrity"
	"position-ledger/internal/lock"
	"position-ledger/internal/storage"
)

// ValidationOutcome is the persisted result of validating one position.
type ValidationOutcome struct {
	PositionID     int64
	ValidationID   int64
	Report         integrity.Report
	ExecutionCount int
}

// BatchOutcome aggregates ValidatePositionsBatch.
type BatchOutcome struct {
	Outcomes []ValidationOutcome
	Passed   int
	Failed   int
	Errored  int
	Errors   map[int64]error
}

// ValidatePosition validates one stored position, saves the result and its
// issues, and writes the integrity metadata back onto the position.
func (o *Orchestrator) ValidatePosition(ctx context.Context, positionID int64) (*ValidationOutcome, error) {
	release, err := o.locker.Acquire(ctx, lock.PositionKey(positionID))
	if err != nil {
		return nil, err
	}
	defer release()

	return o.validateLocked(ctx, positionID)
}

func (o *Orchestrator) validateLocked(ctx context.Context, positionID int64) (*ValidationOutcome, error) {
	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", positionID, err)
	}
	execs, err := o.executions.ListByPosition(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("list executions of position %d: %w", positionID, err)
	}

	report := o.validator.Validate(*pos, execs)
	vid, err := o.validations.SaveValidationWithIssues(ctx, &report.Result, report.Issues)
	if err != nil {
		return nil, fmt.Errorf("save validation of position %d: %w", positionID, err)
	}
	for i := range report.Issues {
		report.Issues[i].ValidationID = vid
	}

	validatedAt := report.Result.Timestamp
	pos.LastValidatedAt = &validatedAt
	pos.ValidationStatus = report.Result.Status
	pos.IntegrityScore = report.Score
	pos.UpdatedAt = o.nowMs()
	if _, err := o.positions.Update(ctx, pos); err != nil {
		return nil, fmt.Errorf("update position %d: %w", positionID, err)
	}

	o.metrics.RecordValidation(domain.CheckPosition, report.Result.Status, report.Issues)
	return &ValidationOutcome{
		PositionID:     positionID,
		ValidationID:   vid,
		Report:         report,
		ExecutionCount: len(execs),
	}, nil
}

// ValidatePositionsBatch validates each position independently. A failing
// position is counted as errored and does not stop the batch.
func (o *Orchestrator) ValidatePositionsBatch(ctx context.Context, ids []int64) (*BatchOutcome, error) {
	out := &BatchOutcome{Errors: map[int64]error{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := o.ValidatePosition(ctx, id)
		if err != nil {
			out.Errored++
			out.Errors[id] = err
			o.logger.WithError(err).WithField("position_id", id).Warn("validation errored")
			continue
		}
		out.Outcomes = append(out.Outcomes, *res)
		switch res.Report.Result.Status {
		case domain.ValidationPassed:
			out.Passed++
		case domain.ValidationFailed:
			out.Failed++
		default:
			out.Errored++
		}
	}
	return out, nil
}

// ValidateAll validates every stored position and runs the dataset-wide
// checks. Positions not started before the batch time limit are skipped and
// the run is marked timed out. The run is stored and, when it needs attention,
// forwarded to the notifier.
func (o *Orchestrator) ValidateAll(ctx context.Context) (*domain.BatchRun, error) {
	start := o.now()
	run := domain.BatchRun{
		RunID:     uuid.NewString(),
		StartedAt: start.UnixMilli(),
	}
	log := o.logger.WithField("run_id", run.RunID)

	positions, err := o.positions.ListAll(ctx, domain.PositionFilter{})
	if err != nil {
		o.metrics.RecordBatchFailure()
		return nil, fmt.Errorf("list positions: %w", err)
	}

	linkCounts := make(map[int64]int, len(positions))
	for _, p := range positions {
		if o.batchTimeLimit > 0 && o.now().Sub(start) >= o.batchTimeLimit {
			run.Skipped++
			run.TimedOut = true
			continue
		}
		if err := ctx.Err(); err != nil {
			o.metrics.RecordBatchFailure()
			return nil, err
		}

		res, err := o.ValidatePosition(ctx, p.ID)
		run.PositionsChecked++
		if err != nil {
			run.Errored++
			log.WithError(err).WithField("position_id", p.ID).Warn("validation errored")
			continue
		}
		linkCounts[p.ID] = res.ExecutionCount
		run.IssueCount += len(res.Report.Issues)
		run.CriticalCount += integrity.CountBySeverity(res.Report.Issues)[domain.SeverityCritical]
		switch res.Report.Result.Status {
		case domain.ValidationPassed:
			run.Passed++
		case domain.ValidationFailed:
			run.Failed++
		default:
			run.Errored++
		}
	}

	if err := o.systemChecks(ctx, &run, positions, linkCounts); err != nil {
		log.WithError(err).Error("system checks failed")
	}

	run.CompletedAt = o.nowMs()
	if o.batchRuns != nil {
		if err := o.batchRuns.InsertRun(ctx, &run); err != nil {
			log.WithError(err).Error("failed to store batch run")
		}
	}
	o.metrics.RecordBatchRun(run, o.now().Sub(start))

	log.WithFields(logrus.Fields{
		"checked":   run.PositionsChecked,
		"passed":    run.Passed,
		"failed":    run.Failed,
		"errored":   run.Errored,
		"skipped":   run.Skipped,
		"issues":    run.IssueCount,
		"critical":  run.CriticalCount,
		"orphaned":  run.OrphanedCount,
		"timed_out": run.TimedOut,
	}).Info("batch validation completed")

	if run.NeedsAttention() && o.notifier != nil {
		err := o.notifier.NotifyBatchRun(ctx, run)
		o.metrics.RecordNotification(err)
		if err != nil {
			log.WithError(err).Warn("batch notification failed")
		}
	}
	return &run, nil
}

// systemChecks runs the orphaned-execution and empty-position checks. Only
// positions validated in this run take part in the empty-position check.
func (o *Orchestrator) systemChecks(ctx context.Context, run *domain.BatchRun, positions []*domain.Position, linkCounts map[int64]int) error {
	execs, err := o.executions.ListAllNonDeleted(ctx)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	var errs []error

	orphans := o.validator.CheckOrphanedExecutions(execs)
	run.OrphanedCount = len(orphans.Issues)
	if err := o.saveSystemReport(ctx, run, orphans); err != nil {
		errs = append(errs, err)
	}

	checked := make([]*domain.Position, 0, len(linkCounts))
	for _, p := range positions {
		if _, ok := linkCounts[p.ID]; ok {
			checked = append(checked, p)
		}
	}
	empty := o.validator.CheckPositionsWithoutExecutions(checked, linkCounts)
	if err := o.saveSystemReport(ctx, run, empty); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) saveSystemReport(ctx context.Context, run *domain.BatchRun, report integrity.Report) error {
	if _, err := o.validations.SaveValidationWithIssues(ctx, &report.Result, report.Issues); err != nil {
		return fmt.Errorf("save %s: %w", report.Result.CheckType, err)
	}
	run.IssueCount += len(report.Issues)
	run.CriticalCount += integrity.CountBySeverity(report.Issues)[domain.SeverityCritical]
	o.metrics.RecordValidation(report.Result.CheckType, report.Result.Status, report.Issues)
	return nil
}

// LatestValidation returns the newest stored position check.
func (o *Orchestrator) LatestValidation(ctx context.Context, positionID int64) (*domain.ValidationResult, error) {
	return o.validations.GetLatestValidation(ctx, positionID)
}

// Issues lists stored integrity issues.
func (o *Orchestrator) Issues(ctx context.Context, filter domain.IssueFilter) ([]domain.IntegrityIssue, error) {
	return o.validations.GetIntegrityIssues(ctx, filter)
}

// Statistics aggregates stored positions.
func (o *Orchestrator) Statistics(ctx context.Context, filter domain.PositionFilter) (*domain.PositionStatistics, error) {
	return o.positions.GetStatistics(ctx, filter)
}

// RecentRuns returns up to limit batch runs, newest first. It returns
// storage.ErrNotFound when no batch run store is configured.
func (o *Orchestrator) RecentRuns(ctx context.Context, limit int) ([]*domain.BatchRun, error) {
	if o.batchRuns == nil {
		return nil, storage.ErrNotFound
	}
	return o.batchRuns.ListRecent(ctx, limit)
}

