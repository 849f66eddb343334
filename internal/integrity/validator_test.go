package integrity

import (
	"reflect"
	"testing"
	"time"

	"position-ledger/internal/domain"
)

var fixedNow = time.UnixMilli(10_000_000)

func newTestValidator() *Validator {
	return NewValidator(nil).WithClock(func() time.Time { return fixedNow })
}

func exec(id int64, side domain.Side, qty int64, price float64, ts int64) *domain.Execution {
	return &domain.Execution{
		ID:         id,
		Account:    "ACC1",
		Instrument: "NQ",
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Timestamp:  ts,
		Processed:  true,
	}
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int64) *int64       { return &v }

func closedLong() (domain.Position, []*domain.Execution) {
	execs := []*domain.Execution{
		exec(1, domain.SideBuy, 5, 100, 1000),
		exec(2, domain.SideSell, 5, 105, 2000),
	}
	pos := domain.Position{
		ID:                7,
		Account:           "ACC1",
		Instrument:        "NQ",
		Direction:         domain.DirectionLong,
		Status:            domain.PositionClosed,
		TotalQuantity:     5,
		MaxQuantity:       5,
		AverageEntryPrice: 100,
		AverageExitPrice:  ptrFloat(105),
		ExecutionCount:    2,
		EntryTime:         1000,
		ExitTime:          ptrInt(2000),
	}
	return pos, execs
}

func issueTypes(issues []domain.IntegrityIssue) []domain.IssueType {
	out := make([]domain.IssueType, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Type)
	}
	return out
}

func TestValidate_Passes(t *testing.T) {
	pos, execs := closedLong()
	report := newTestValidator().Validate(pos, execs)

	if report.Result.Status != domain.ValidationPassed {
		t.Fatalf("expected passed, got %s with issues %v", report.Result.Status, issueTypes(report.Issues))
	}
	if report.Score != 100 {
		t.Errorf("expected score 100, got %f", report.Score)
	}
	if report.Result.PositionID == nil || *report.Result.PositionID != 7 {
		t.Errorf("expected position id 7 on result")
	}
	if report.Result.CompletedAt == nil {
		t.Errorf("expected completed_at to be set")
	}
}

func TestValidate_QuantityMismatch(t *testing.T) {
	// Open long claiming 5 contracts while executions only bought 4.
	pos := domain.Position{
		ID:                1,
		Account:           "ACC1",
		Instrument:        "NQ",
		Direction:         domain.DirectionLong,
		Status:            domain.PositionOpen,
		TotalQuantity:     5,
		MaxQuantity:       5,
		AverageEntryPrice: 100,
		ExecutionCount:    1,
		EntryTime:         1000,
	}
	execs := []*domain.Execution{exec(1, domain.SideBuy, 4, 100, 1000)}

	report := newTestValidator().Validate(pos, execs)

	if len(report.Issues) != 1 {
		t.Fatalf("expected exactly 1 issue, got %v", issueTypes(report.Issues))
	}
	issue := report.Issues[0]
	if issue.Type != domain.IssueQuantityMismatch || issue.Severity != domain.SeverityHigh {
		t.Errorf("expected high quantity_mismatch, got %s %s", issue.Severity, issue.Type)
	}
	if report.Result.Status != domain.ValidationFailed {
		t.Errorf("expected failed, got %s", report.Result.Status)
	}
	if report.Score != 80 {
		t.Errorf("expected score 80, got %f", report.Score)
	}
}

func TestValidate_MissingExecutions(t *testing.T) {
	pos, _ := closedLong()
	report := newTestValidator().Validate(pos, nil)

	got := issueTypes(report.Issues)
	want := []domain.IssueType{domain.IssueMissingExecution, domain.IssueIncompleteData, domain.IssueQuantityMismatch}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if report.Issues[0].Severity != domain.SeverityCritical {
		t.Errorf("expected missing_execution to be critical")
	}
}

func TestValidate_IncompleteExecution(t *testing.T) {
	pos, execs := closedLong()
	execs[1].Instrument = ""

	report := newTestValidator().Validate(pos, execs)
	if len(report.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issueTypes(report.Issues))
	}
	issue := report.Issues[0]
	if issue.Type != domain.IssueIncompleteData || issue.ExecutionID == nil || *issue.ExecutionID != 2 {
		t.Errorf("expected incomplete_data for execution 2, got %+v", issue)
	}
}

func TestValidate_PriceMismatchUsesEntrySide(t *testing.T) {
	// Short: entries are the sells, so the buy at 90 must not affect the average.
	execs := []*domain.Execution{
		exec(1, domain.SideSellShort, 2, 100, 1000),
		exec(2, domain.SideBuyToCover, 2, 90, 2000),
	}
	pos := domain.Position{
		ID: 3, Account: "ACC1", Instrument: "NQ",
		Direction: domain.DirectionShort, Status: domain.PositionClosed,
		TotalQuantity: 2, MaxQuantity: 2,
		AverageEntryPrice: 100, AverageExitPrice: ptrFloat(90),
		ExecutionCount: 2, EntryTime: 1000, ExitTime: ptrInt(2000),
	}

	v := newTestValidator()
	if r := v.Validate(pos, execs); len(r.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", issueTypes(r.Issues))
	}

	pos.AverageEntryPrice = 100.02
	r := v.Validate(pos, execs)
	if len(r.Issues) != 1 || r.Issues[0].Type != domain.IssuePriceMismatch || r.Issues[0].Severity != domain.SeverityMedium {
		t.Fatalf("expected medium price_mismatch, got %v", issueTypes(r.Issues))
	}

	pos.AverageEntryPrice = 100.005
	if r := v.Validate(pos, execs); len(r.Issues) != 0 {
		t.Errorf("expected difference within tolerance to pass, got %v", issueTypes(r.Issues))
	}
}

func TestValidate_Duplicates(t *testing.T) {
	pos, execs := closedLong()
	execs = append(execs, exec(1, domain.SideBuy, 5, 100, 1000))
	pos.ExecutionCount = 3

	report := newTestValidator().Validate(pos, execs)
	var dup *domain.IntegrityIssue
	for i := range report.Issues {
		if report.Issues[i].Type == domain.IssueDuplicateExecution {
			dup = &report.Issues[i]
		}
	}
	if dup == nil {
		t.Fatalf("expected duplicate_execution, got %v", issueTypes(report.Issues))
	}
	if dup.ExecutionID == nil || *dup.ExecutionID != 1 {
		t.Errorf("expected duplicate on execution 1")
	}
}

func TestValidate_Timestamps(t *testing.T) {
	pos, execs := closedLong()
	pos.EntryTime = 1500 // within 1s
	if r := newTestValidator().Validate(pos, execs); len(r.Issues) != 0 {
		t.Fatalf("expected tolerance to absorb 500ms, got %v", issueTypes(r.Issues))
	}

	pos.EntryTime = 5000
	pos.ExitTime = ptrInt(500)
	r := newTestValidator().Validate(pos, execs)
	if len(r.Issues) != 2 {
		t.Fatalf("expected 2 timestamp issues, got %v", issueTypes(r.Issues))
	}
	for _, i := range r.Issues {
		if i.Type != domain.IssueTimestampAnomaly || i.Severity != domain.SeverityLow {
			t.Errorf("expected low timestamp_anomaly, got %s %s", i.Severity, i.Type)
		}
	}
}

func TestValidate_FutureExecution(t *testing.T) {
	future := fixedNow.UnixMilli() + FutureToleranceMs + 1
	execs := []*domain.Execution{exec(1, domain.SideBuy, 1, 100, future)}
	pos := domain.Position{
		ID: 1, Account: "ACC1", Instrument: "NQ",
		Direction: domain.DirectionLong, Status: domain.PositionOpen,
		TotalQuantity: 1, MaxQuantity: 1, AverageEntryPrice: 100,
		ExecutionCount: 1, EntryTime: future,
	}

	r := newTestValidator().Validate(pos, execs)
	if len(r.Issues) != 1 || r.Issues[0].Severity != domain.SeverityMedium || r.Issues[0].Type != domain.IssueTimestampAnomaly {
		t.Fatalf("expected medium timestamp_anomaly, got %v", issueTypes(r.Issues))
	}
}

func TestValidate_Idempotent(t *testing.T) {
	pos, execs := closedLong()
	pos.TotalQuantity = 9
	pos.EntryTime = 9000

	first := NewValidator(nil).WithClock(func() time.Time { return fixedNow }).Validate(pos, execs)
	second := NewValidator(nil).WithClock(func() time.Time { return fixedNow.Add(time.Minute) }).Validate(pos, execs)

	if len(first.Issues) != len(second.Issues) {
		t.Fatalf("issue counts differ: %d vs %d", len(first.Issues), len(second.Issues))
	}
	for i := range first.Issues {
		a, b := first.Issues[i], second.Issues[i]
		if a.Type != b.Type || a.Severity != b.Severity || a.Description != b.Description || a.Fingerprint != b.Fingerprint {
			t.Errorf("issue %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestValidate_PanicBecomesError(t *testing.T) {
	pos, execs := closedLong()
	execs = append(execs, nil)

	report := newTestValidator().Validate(pos, execs)
	if report.Result.Status != domain.ValidationError {
		t.Fatalf("expected error status, got %s", report.Result.Status)
	}
	if report.Result.ErrorMessage == "" {
		t.Errorf("expected error message to be preserved")
	}
	if report.Score != 0 {
		t.Errorf("expected score 0, got %f", report.Score)
	}
}

func TestCheckOrphanedExecutions(t *testing.T) {
	linked := exec(1, domain.SideBuy, 1, 100, 1000)
	linked.PositionID = ptrInt(5)
	orphan := exec(2, domain.SideSell, 1, 101, 2000)
	unprocessed := exec(3, domain.SideBuy, 1, 100, 3000)
	unprocessed.Processed = false

	r := newTestValidator().CheckOrphanedExecutions([]*domain.Execution{orphan, linked, unprocessed})
	if len(r.Issues) != 1 {
		t.Fatalf("expected 1 orphan, got %d", len(r.Issues))
	}
	if r.Issues[0].Severity != domain.SeverityHigh || *r.Issues[0].ExecutionID != 2 {
		t.Errorf("unexpected orphan issue %+v", r.Issues[0])
	}
	if r.Result.PositionID != nil || r.Result.CheckType != domain.CheckOrphanedExecutions {
		t.Errorf("expected dataset-wide result, got %+v", r.Result)
	}
}

func TestCheckPositionsWithoutExecutions(t *testing.T) {
	positions := []*domain.Position{{ID: 2}, {ID: 1}, {ID: 3}}
	r := newTestValidator().CheckPositionsWithoutExecutions(positions, map[int64]int{1: 2})

	if len(r.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(r.Issues))
	}
	if *r.Issues[0].PositionID != 2 || *r.Issues[1].PositionID != 3 {
		t.Errorf("expected issues ordered by position id")
	}
	for _, i := range r.Issues {
		if i.Type != domain.IssuePositionWithoutExecutions || i.Severity != domain.SeverityCritical {
			t.Errorf("unexpected issue %s %s", i.Severity, i.Type)
		}
	}
}

func TestScore(t *testing.T) {
	issues := func(sevs ...domain.Severity) []domain.IntegrityIssue {
		out := make([]domain.IntegrityIssue, 0, len(sevs))
		for _, s := range sevs {
			out = append(out, domain.IntegrityIssue{Severity: s})
		}
		return out
	}

	tests := []struct {
		name   string
		status domain.ValidationStatus
		issues []domain.IntegrityIssue
		want   float64
	}{
		{"passed", domain.ValidationPassed, nil, 100},
		{"error", domain.ValidationError, nil, 0},
		{"one high", domain.ValidationFailed, issues(domain.SeverityHigh), 80},
		{"mixed", domain.ValidationFailed, issues(domain.SeverityMedium, domain.SeverityLow, domain.SeverityInfo), 84},
		{"floored", domain.ValidationFailed, issues(domain.SeverityCritical, domain.SeverityCritical, domain.SeverityCritical), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.status, tt.issues); got != tt.want {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}
