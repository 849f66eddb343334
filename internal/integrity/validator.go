// Package integrity validates stored positions against the executions that
// compose them and repairs a whitelisted subset of the issues it finds.
package integrity

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"position-ledger/internal/domain"
)

// Tolerances used by the consistency and timestamp checks.
const (
	PriceTolerance       = 0.01             // absolute, in price units
	TimestampToleranceMs = int64(1000)      // entry/exit vs execution times
	FutureToleranceMs    = int64(3_600_000) // executions ahead of the validation clock
)

// Report is the outcome of one validation.
type Report struct {
	Result domain.ValidationResult
	Issues []domain.IntegrityIssue
	Score  float64
}

// Validator runs the per-position and dataset-wide integrity checks.
// It holds no state between calls.
type Validator struct {
	now    func() time.Time
	logger logrus.FieldLogger
}

// NewValidator creates a validator using the wall clock. A nil logger discards output.
func NewValidator(logger logrus.FieldLogger) *Validator {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Validator{now: time.Now, logger: logger}
}

// WithClock replaces the validation clock.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// checker accumulates issues for one validation run.
type checker struct {
	now        int64
	positionID *int64
	issues     []domain.IntegrityIssue
}

func (c *checker) add(t domain.IssueType, sev domain.Severity, executionID *int64, metadata map[string]any, format string, args ...any) {
	issue, err := domain.NewIntegrityIssue(t, sev, fmt.Sprintf(format, args...), c.positionID, executionID, metadata, c.now)
	if err != nil {
		panic(err)
	}
	c.issues = append(c.issues, issue)
}

// Validate checks one position against its executions. The completeness,
// consistency and timestamp checks all run; none short-circuits another.
// A panic inside a check is converted into a report with status error.
func (v *Validator) Validate(pos domain.Position, execs []*domain.Execution) (report Report) {
	now := v.now().UnixMilli()
	posID := pos.ID
	report.Result = domain.ValidationResult{
		PositionID: &posID,
		CheckType:  domain.CheckPosition,
		Status:     domain.ValidationInProgress,
		Timestamp:  now,
	}

	defer func() {
		if r := recover(); r != nil {
			v.logger.WithField("position_id", pos.ID).Errorf("validation panicked: %v", r)
			report.Issues = nil
			report.Result.Status = domain.ValidationError
			report.Result.ErrorMessage = fmt.Sprint(r)
			report.Result.IssueCount = 0
			report.Result.CompletedAt = &now
			report.Score = Score(domain.ValidationError, nil)
		}
	}()

	c := &checker{now: now, positionID: &posID}
	checkCompleteness(c, pos, execs)
	checkConsistency(c, pos, execs)
	checkTimestamps(c, pos, execs)

	v.finish(&report, c.issues, now)
	if len(report.Issues) > 0 {
		v.logger.WithFields(logrus.Fields{
			"position_id": pos.ID,
			"account":     pos.Account,
			"instrument":  pos.Instrument,
			"issues":      len(report.Issues),
		}).Warn("position failed validation")
	}
	return report
}

func (v *Validator) finish(report *Report, issues []domain.IntegrityIssue, now int64) {
	report.Issues = issues
	report.Result.IssueCount = len(issues)
	report.Result.CompletedAt = &now
	report.Result.Status = domain.ValidationPassed
	if len(issues) > 0 {
		report.Result.Status = domain.ValidationFailed
	}
	report.Score = Score(report.Result.Status, issues)
}

func checkCompleteness(c *checker, pos domain.Position, execs []*domain.Execution) {
	if len(execs) == 0 {
		c.add(domain.IssueMissingExecution, domain.SeverityCritical, nil, nil,
			"position %d has no executions", pos.ID)
	}

	if pos.ExecutionCount != len(execs) {
		c.add(domain.IssueIncompleteData, domain.SeverityHigh, nil,
			map[string]any{"stored_execution_count": pos.ExecutionCount, "actual_execution_count": len(execs)},
			"execution_count %d does not match %d linked executions", pos.ExecutionCount, len(execs))
	}

	for _, e := range execs {
		var missing []string
		if e.Timestamp <= 0 {
			missing = append(missing, "timestamp")
		}
		if e.Price <= 0 {
			missing = append(missing, "price")
		}
		if e.Quantity <= 0 {
			missing = append(missing, "quantity")
		}
		if e.Instrument == "" {
			missing = append(missing, "instrument")
		}
		if len(missing) == 0 {
			continue
		}
		id := e.ID
		c.add(domain.IssueIncompleteData, domain.SeverityHigh, &id,
			map[string]any{"missing_fields": missing},
			"execution %d is missing fields: %v", e.ID, missing)
	}
}

func checkConsistency(c *checker, pos domain.Position, execs []*domain.Execution) {
	summary := domain.SummarizeQuantities(execs)
	expected := summary.Expected(pos.Status)
	if expected != pos.TotalQuantity {
		c.add(domain.IssueQuantityMismatch, domain.SeverityHigh, nil,
			map[string]any{
				"stored_total_quantity":   pos.TotalQuantity,
				"expected_total_quantity": expected,
				"total_bought":            summary.Bought,
				"total_sold":              summary.Sold,
			},
			"total_quantity %d does not match %d computed from executions", pos.TotalQuantity, expected)
	}

	if pos.IsClosed() {
		if avg, ok := averageEntryPrice(pos.Direction, execs); ok && math.Abs(avg-pos.AverageEntryPrice) > PriceTolerance {
			c.add(domain.IssuePriceMismatch, domain.SeverityMedium, nil,
				map[string]any{"stored_average_entry_price": pos.AverageEntryPrice, "expected_average_entry_price": avg},
				"average_entry_price %.4f does not match %.4f computed from executions", pos.AverageEntryPrice, avg)
		}
	}

	seen := make(map[int64]int, len(execs))
	var order []int64
	for _, e := range execs {
		if seen[e.ID] == 0 {
			order = append(order, e.ID)
		}
		seen[e.ID]++
	}
	for _, id := range order {
		if seen[id] < 2 {
			continue
		}
		execID := id
		c.add(domain.IssueDuplicateExecution, domain.SeverityHigh, &execID,
			map[string]any{"occurrences": seen[id]},
			"execution %d appears %d times", id, seen[id])
	}
}

func checkTimestamps(c *checker, pos domain.Position, execs []*domain.Execution) {
	earliest, latest, ok := timeBounds(execs)
	if ok {
		if abs64(pos.EntryTime-earliest) > TimestampToleranceMs {
			c.add(domain.IssueTimestampAnomaly, domain.SeverityLow, nil,
				map[string]any{"field": "entry_time", "stored": pos.EntryTime, "expected": earliest},
				"entry_time %d differs from earliest execution %d", pos.EntryTime, earliest)
		}
		if pos.IsClosed() && pos.ExitTime != nil && abs64(*pos.ExitTime-latest) > TimestampToleranceMs {
			c.add(domain.IssueTimestampAnomaly, domain.SeverityLow, nil,
				map[string]any{"field": "exit_time", "stored": *pos.ExitTime, "expected": latest},
				"exit_time %d differs from latest execution %d", *pos.ExitTime, latest)
		}
	}

	limit := c.now + FutureToleranceMs
	for _, e := range execs {
		if e.Timestamp <= limit {
			continue
		}
		id := e.ID
		c.add(domain.IssueTimestampAnomaly, domain.SeverityMedium, &id,
			map[string]any{"field": "execution_timestamp", "timestamp": e.Timestamp},
			"execution %d is timestamped in the future", e.ID)
	}
}

// CheckOrphanedExecutions reports processed executions that are linked to no position.
func (v *Validator) CheckOrphanedExecutions(execs []*domain.Execution) Report {
	now := v.now().UnixMilli()
	report := Report{Result: domain.ValidationResult{
		CheckType: domain.CheckOrphanedExecutions,
		Timestamp: now,
	}}

	ordered := sortedByID(execs)
	c := &checker{now: now}
	for _, e := range ordered {
		if !e.Processed || e.Deleted || e.PositionID != nil {
			continue
		}
		id := e.ID
		c.add(domain.IssueOrphanedExecution, domain.SeverityHigh, &id,
			map[string]any{"account": e.Account, "instrument": e.Instrument},
			"execution %d is processed but not linked to any position", e.ID)
	}

	v.finish(&report, c.issues, now)
	return report
}

// CheckPositionsWithoutExecutions reports positions with zero linked executions.
// linkCounts maps position id to its number of linked executions.
func (v *Validator) CheckPositionsWithoutExecutions(positions []*domain.Position, linkCounts map[int64]int) Report {
	now := v.now().UnixMilli()
	report := Report{Result: domain.ValidationResult{
		CheckType: domain.CheckPositionsWithoutExecutions,
		Timestamp: now,
	}}

	ordered := make([]*domain.Position, len(positions))
	copy(ordered, positions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	c := &checker{now: now}
	for _, p := range ordered {
		if linkCounts[p.ID] > 0 {
			continue
		}
		c.positionID = &p.ID
		c.add(domain.IssuePositionWithoutExecutions, domain.SeverityCritical, nil,
			map[string]any{"account": p.Account, "instrument": p.Instrument},
			"position %d has no linked executions", p.ID)
	}

	v.finish(&report, c.issues, now)
	return report
}

// averageEntryPrice is the quantity-weighted price of the entry-side executions.
func averageEntryPrice(dir domain.Direction, execs []*domain.Execution) (float64, bool) {
	var qty int64
	var notional float64
	for _, e := range execs {
		if e == nil || e.Quantity <= 0 || e.Price <= 0 || !dir.IsEntry(e.Side) {
			continue
		}
		qty += e.Quantity
		notional += e.Price * float64(e.Quantity)
	}
	if qty == 0 {
		return 0, false
	}
	return notional / float64(qty), true
}

// timeBounds returns the earliest and latest positive execution timestamps.
func timeBounds(execs []*domain.Execution) (earliest, latest int64, ok bool) {
	for _, e := range execs {
		if e == nil || e.Timestamp <= 0 {
			continue
		}
		if !ok || e.Timestamp < earliest {
			earliest = e.Timestamp
		}
		if !ok || e.Timestamp > latest {
			latest = e.Timestamp
		}
		ok = true
	}
	return earliest, latest, ok
}

func sortedByID(execs []*domain.Execution) []*domain.Execution {
	out := make([]*domain.Execution, 0, len(execs))
	for _, e := range execs {
		if e != nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
