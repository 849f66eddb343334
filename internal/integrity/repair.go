package integrity

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"position-ledger/internal/domain"
)

// Repair methods
const (
	MethodQuantityRecalculation = "quantity_recalculation"
	MethodTimestampCorrection   = "timestamp_correction"
	MethodDataCompletion        = "data_completion"
)

// ResolutionMethodPrefix prefixes the repair method on resolved issues.
const ResolutionMethodPrefix = "auto_repair_"

var errNoExecutions = errors.New("no executions to repair from")

// MethodFor returns the repair method for an issue type and whether the type
// is auto-repairable at all.
func MethodFor(t domain.IssueType) (string, bool) {
	switch t {
	case domain.IssueQuantityMismatch:
		return MethodQuantityRecalculation, true
	case domain.IssueTimestampAnomaly:
		return MethodTimestampCorrection, true
	case domain.IssueIncompleteData:
		return MethodDataCompletion, true
	case domain.IssueMissingExecution,
		domain.IssueOrphanedExecution,
		domain.IssuePriceMismatch,
		domain.IssueDuplicateExecution,
		domain.IssuePositionWithoutExecutions,
		domain.IssuePositionNotFlat,
		domain.IssueOrphanSourceFile,
		domain.IssueOther:
		return "", false
	}
	return "", false
}

// Repairer applies whitelisted, deterministic fixes recomputed from executions.
type Repairer struct {
	logger logrus.FieldLogger
}

// NewRepairer creates a repairer. A nil logger discards output.
func NewRepairer(logger logrus.FieldLogger) *Repairer {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Repairer{logger: logger}
}

// repairFunc mutates pos in place and returns the ordered change list.
type repairFunc func(pos *domain.Position, execs []*domain.Execution, meta map[string]any) ([]string, error)

var repairers = map[string]repairFunc{
	MethodQuantityRecalculation: repairQuantity,
	MethodTimestampCorrection:   repairTimestamps,
	MethodDataCompletion:        completeData,
}

// Repair attempts to fix issue on pos. It returns the repaired position and
// the outcome. With dryRun the change list is computed the same way but the
// returned position is the unmodified input. Panics are converted into a
// failed result and never escape.
func (r *Repairer) Repair(issue domain.IntegrityIssue, pos domain.Position, execs []*domain.Execution, dryRun bool) (out domain.Position, result domain.RepairResult) {
	original := pos.Clone()
	out = original
	result = domain.RepairResult{
		IssueID:  issue.ID,
		DryRun:   dryRun,
		Metadata: map[string]any{},
	}

	method, ok := MethodFor(issue.Type)
	if !ok || issue.Status.IsFinal() {
		result.Status = domain.RepairNotRepairable
		if issue.Status.IsFinal() {
			result.Error = fmt.Sprintf("issue is already %s", issue.Status)
		} else {
			result.Error = fmt.Sprintf("issue type %s is not auto-repairable", issue.Type)
		}
		return out, result
	}
	result.Method = method

	log := r.logger.WithFields(logrus.Fields{
		"issue_id":    issue.ID,
		"issue_type":  issue.Type,
		"position_id": pos.ID,
		"dry_run":     dryRun,
	})

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("repair panicked: %v", rec)
			out = original
			result.Status = domain.RepairFailed
			result.Changes = nil
			result.Error = fmt.Sprint(rec)
		}
	}()

	work := original.Clone()
	changes, err := repairers[method](&work, execs, result.Metadata)
	result.Changes = changes
	switch {
	case err != nil:
		result.Status = domain.RepairFailed
		result.Error = err.Error()
		log.WithError(err).Warn("repair failed")
		return original, result
	case len(changes) == 0:
		result.Status = domain.RepairPartial
		result.Error = "nothing to correct from executions"
		return original, result
	}

	result.Status = domain.RepairSuccess
	if dryRun {
		return original, result
	}
	log.WithField("changes", len(changes)).Info("repair applied")
	return work, result
}

func repairQuantity(pos *domain.Position, execs []*domain.Execution, meta map[string]any) ([]string, error) {
	if len(execs) == 0 {
		return nil, errNoExecutions
	}
	summary := domain.SummarizeQuantities(execs)
	expected := summary.Expected(pos.Status)

	meta["total_bought"] = summary.Bought
	meta["total_sold"] = summary.Sold
	meta["old_total_quantity"] = pos.TotalQuantity
	meta["new_total_quantity"] = expected

	if expected == pos.TotalQuantity {
		return []string{fmt.Sprintf("total_quantity verified at %d", expected)}, nil
	}
	change := fmt.Sprintf("total_quantity: %d -> %d", pos.TotalQuantity, expected)
	pos.TotalQuantity = expected
	if pos.MaxQuantity < expected {
		pos.MaxQuantity = expected
	}
	return []string{change}, nil
}

func repairTimestamps(pos *domain.Position, execs []*domain.Execution, meta map[string]any) ([]string, error) {
	earliest, latest, ok := timeBounds(execs)
	if !ok {
		return nil, errNoExecutions
	}

	var changes []string
	if pos.EntryTime > earliest {
		meta["old_entry_time"] = pos.EntryTime
		meta["new_entry_time"] = earliest
		changes = append(changes, fmt.Sprintf("entry_time: %d -> %d", pos.EntryTime, earliest))
		pos.EntryTime = earliest
	}
	if pos.IsClosed() && (pos.ExitTime == nil || *pos.ExitTime < latest) {
		old := "null"
		if pos.ExitTime != nil {
			old = fmt.Sprint(*pos.ExitTime)
			meta["old_exit_time"] = *pos.ExitTime
		}
		meta["new_exit_time"] = latest
		changes = append(changes, fmt.Sprintf("exit_time: %s -> %d", old, latest))
		pos.ExitTime = &latest
	}
	return changes, nil
}

func completeData(pos *domain.Position, execs []*domain.Execution, meta map[string]any) ([]string, error) {
	ordered := make([]*domain.Execution, 0, len(execs))
	for _, e := range execs {
		if e != nil {
			ordered = append(ordered, e)
		}
	}
	if len(ordered) == 0 {
		return nil, errNoExecutions
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp != ordered[j].Timestamp {
			return ordered[i].Timestamp < ordered[j].Timestamp
		}
		return ordered[i].ID < ordered[j].ID
	})
	first, last := ordered[0], ordered[len(ordered)-1]

	var changes []string
	if strings.TrimSpace(pos.Instrument) == "" && first.Instrument != "" {
		meta["new_instrument"] = first.Instrument
		changes = append(changes, fmt.Sprintf("instrument: '' -> %s", first.Instrument))
		pos.Instrument = first.Instrument
	}
	if pos.AverageEntryPrice == 0 && first.Price > 0 {
		meta["new_average_entry_price"] = first.Price
		changes = append(changes, fmt.Sprintf("average_entry_price: 0 -> %.4f", first.Price))
		pos.AverageEntryPrice = first.Price
	}
	if pos.IsClosed() && (pos.AverageExitPrice == nil || *pos.AverageExitPrice == 0) && last.Price > 0 {
		price := last.Price
		meta["new_average_exit_price"] = price
		changes = append(changes, fmt.Sprintf("average_exit_price: null -> %.4f", price))
		pos.AverageExitPrice = &price
	}
	if pos.EntryTime == 0 && first.Timestamp > 0 {
		meta["new_entry_time"] = first.Timestamp
		changes = append(changes, fmt.Sprintf("entry_time: 0 -> %d", first.Timestamp))
		pos.EntryTime = first.Timestamp
	}
	return changes, nil
}

// ApplyRepairOutcome returns issue updated with the repair audit. A successful
// repair resolves the issue with method auto_repair_<method>; a failed one marks
// it failed with the error message. Dry runs and not-repairable results leave
// the issue unchanged.
func ApplyRepairOutcome(issue domain.IntegrityIssue, result domain.RepairResult, at int64) domain.IntegrityIssue {
	if result.DryRun || result.Status == domain.RepairNotRepairable {
		return issue
	}

	out := issue
	successful := result.Status == domain.RepairSuccess
	out.RepairAttempted = true
	out.RepairMethod = result.Method
	out.RepairSuccessful = &successful
	out.RepairAttemptedAt = &at
	out.RepairDetails = RepairDetails(result)

	method := ResolutionMethodPrefix + result.Method
	switch result.Status {
	case domain.RepairSuccess:
		// Detection may carry a later clock than the repairer; never resolve before it.
		_ = out.MarkResolved(method, strings.Join(result.Changes, "; "), max(at, out.DetectedAt))
	case domain.RepairFailed:
		out.MarkFailed(method, result.Error)
	case domain.RepairPartial, domain.RepairNotRepairable:
	}
	return out
}

// RepairDetails flattens a repair result into the audit map stored on the issue.
func RepairDetails(result domain.RepairResult) map[string]any {
	details := map[string]any{
		"status":  string(result.Status),
		"changes": append([]string(nil), result.Changes...),
		"dry_run": result.DryRun,
	}
	for k, v := range result.Metadata {
		details[k] = v
	}
	if result.Error != "" {
		details["error"] = result.Error
	}
	return details
}
