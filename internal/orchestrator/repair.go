package orchestrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"position-ledger/internal/domain"
	"position-ledger/internal/integrity"
	"position-ledger/internal/lock"
)

// RepairSummary is the outcome of AttemptAutoRepair.
type RepairSummary struct {
	PositionID int64
	DryRun     bool
	Results    []domain.RepairResult
	// Position is the repaired position, or the stored one for dry runs and
	// when nothing changed.
	Position     domain.Position
	Changed      bool
	Revalidation *ValidationOutcome
}

// AttemptAutoRepair repairs the unresolved issues of a position. Issues that
// share a fingerprint are repaired once and resolved together. Repairs apply
// in sequence so each one sees the previous fix. Outside dry runs the
// position is saved and revalidated when anything changed.
func (o *Orchestrator) AttemptAutoRepair(ctx context.Context, positionID int64, dryRun bool) (*RepairSummary, error) {
	release, err := o.locker.Acquire(ctx, lock.PositionKey(positionID))
	if err != nil {
		return nil, err
	}
	defer release()

	log := o.logger.WithFields(logrus.Fields{"position_id": positionID, "dry_run": dryRun})

	pos, err := o.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", positionID, err)
	}
	execs, err := o.executions.ListByPosition(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("list executions of position %d: %w", positionID, err)
	}
	issues, err := o.validations.GetIntegrityIssues(ctx, domain.IssueFilter{PositionID: &positionID})
	if err != nil {
		return nil, fmt.Errorf("list issues of position %d: %w", positionID, err)
	}

	// Issues arrive newest first; keep the newest of each fingerprint as the
	// representative and remember the rest to resolve alongside it.
	var reps []domain.IntegrityIssue
	byFingerprint := map[string][]domain.IntegrityIssue{}
	for _, issue := range issues {
		if issue.Status.IsFinal() {
			continue
		}
		key := fingerprintKey(issue)
		if _, seen := byFingerprint[key]; !seen {
			reps = append(reps, issue)
		}
		byFingerprint[key] = append(byFingerprint[key], issue)
	}

	summary := &RepairSummary{PositionID: positionID, DryRun: dryRun}
	current := pos.Clone()
	for _, issue := range reps {
		repaired, result := o.repairer.Repair(issue, current, execs, dryRun)
		summary.Results = append(summary.Results, result)
		o.metrics.RecordRepair(result.Method, result.Status)

		if result.Status == domain.RepairSuccess && !dryRun {
			current = repaired
			summary.Changed = true
		}
		if dryRun || result.Status == domain.RepairNotRepairable {
			continue
		}

		if err := o.recordRepair(ctx, byFingerprint[fingerprintKey(issue)], result); err != nil {
			return nil, err
		}
	}

	if summary.Changed {
		current.UpdatedAt = o.nowMs()
		if _, err := o.positions.Update(ctx, &current); err != nil {
			return nil, fmt.Errorf("save repaired position %d: %w", positionID, err)
		}
		reval, err := o.validateLocked(ctx, positionID)
		if err != nil {
			return nil, fmt.Errorf("revalidate position %d: %w", positionID, err)
		}
		summary.Revalidation = reval
		updated, err := o.positions.GetByID(ctx, positionID)
		if err != nil {
			return nil, fmt.Errorf("get position %d: %w", positionID, err)
		}
		current = *updated
	}
	summary.Position = current

	log.WithFields(logrus.Fields{
		"issues":  len(reps),
		"changed": summary.Changed,
	}).Info("auto-repair finished")
	return summary, nil
}

// recordRepair writes the repair audit to every issue of one fingerprint and
// updates their resolution when the outcome changes it.
func (o *Orchestrator) recordRepair(ctx context.Context, issues []domain.IntegrityIssue, result domain.RepairResult) error {
	at := o.nowMs()
	info := domain.RepairInfo{
		Method:      result.Method,
		Successful:  result.Status == domain.RepairSuccess,
		AttemptedAt: at,
		Details:     integrity.RepairDetails(result),
	}
	for _, issue := range issues {
		if err := o.validations.UpdateIssueRepairInfo(ctx, issue.ID, info); err != nil {
			return fmt.Errorf("record repair on issue %d: %w", issue.ID, err)
		}
		updated := integrity.ApplyRepairOutcome(issue, result, at)
		if updated.Status == issue.Status {
			continue
		}
		if err := o.validations.UpdateIssueResolution(ctx, &updated); err != nil {
			return fmt.Errorf("resolve issue %d: %w", issue.ID, err)
		}
	}
	return nil
}

func fingerprintKey(issue domain.IntegrityIssue) string {
	if issue.Fingerprint == "" {
		return fmt.Sprintf("id:%d", issue.ID)
	}
	return issue.Fingerprint
}

// RepairFailedPositions runs AttemptAutoRepair on every position whose last
// validation failed. Errors on single positions are logged and skipped.
func (o *Orchestrator) RepairFailedPositions(ctx context.Context, dryRun bool) ([]*RepairSummary, error) {
	positions, err := o.positions.ListAll(ctx, domain.PositionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	var out []*RepairSummary
	for _, p := range positions {
		if p.ValidationStatus != domain.ValidationFailed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		summary, err := o.AttemptAutoRepair(ctx, p.ID, dryRun)
		if err != nil {
			o.logger.WithError(err).WithField("position_id", p.ID).Warn("auto-repair errored")
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}
