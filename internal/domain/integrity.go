package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidIssue is returned when an integrity issue is malformed.
var ErrInvalidIssue = errors.New("invalid integrity issue")

// IssueType classifies an integrity issue.
type IssueType string

// IssueType constants
const (
	IssueMissingExecution          IssueType = "missing_execution"
	IssueOrphanedExecution         IssueType = "orphaned_execution"
	IssuePriceMismatch             IssueType = "price_mismatch"
	IssueQuantityMismatch          IssueType = "quantity_mismatch"
	IssueTimestampAnomaly          IssueType = "timestamp_anomaly"
	IssueIncompleteData            IssueType = "incomplete_data"
	IssueDuplicateExecution        IssueType = "duplicate_execution"
	IssuePositionWithoutExecutions IssueType = "position_without_executions"
	IssuePositionNotFlat           IssueType = "position_not_flat"
	IssueOrphanSourceFile          IssueType = "orphan_source_file"
	IssueOther                     IssueType = "other"
)

// IssueTypes lists every issue type.
var IssueTypes = []IssueType{
	IssueMissingExecution,
	IssueOrphanedExecution,
	IssuePriceMismatch,
	IssueQuantityMismatch,
	IssueTimestampAnomaly,
	IssueIncompleteData,
	IssueDuplicateExecution,
	IssuePositionWithoutExecutions,
	IssuePositionNotFlat,
	IssueOrphanSourceFile,
	IssueOther,
}

// ParseIssueType rejects unknown issue types.
func ParseIssueType(s string) (IssueType, error) {
	for _, t := range IssueTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown issue type %q", ErrInvalidIssue, s)
}

// Severity ranks an integrity issue.
type Severity string

// Severity constants
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ParseSeverity rejects unknown severities.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return Severity(s), nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidIssue, s)
}

// Weight is the integrity score penalty of one issue of this severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	case SeverityLow:
		return 5
	case SeverityInfo:
		return 1
	}
	return 0
}

// ResolutionStatus tracks the handling of an issue.
type ResolutionStatus string

// ResolutionStatus constants
const (
	ResolutionOpen       ResolutionStatus = "open"
	ResolutionInProgress ResolutionStatus = "in_progress"
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionIgnored    ResolutionStatus = "ignored"
	ResolutionFailed     ResolutionStatus = "failed"
)

// ParseResolutionStatus rejects unknown resolution statuses.
func ParseResolutionStatus(s string) (ResolutionStatus, error) {
	switch ResolutionStatus(s) {
	case ResolutionOpen, ResolutionInProgress, ResolutionResolved, ResolutionIgnored, ResolutionFailed:
		return ResolutionStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown resolution status %q", ErrInvalidIssue, s)
}

// IsFinal reports whether the issue no longer needs handling.
func (s ResolutionStatus) IsFinal() bool {
	return s == ResolutionResolved || s == ResolutionIgnored
}

// ValidationStatus is the outcome of one validation run.
type ValidationStatus string

// ValidationStatus constants
const (
	ValidationPending    ValidationStatus = "pending"
	ValidationInProgress ValidationStatus = "in_progress"
	ValidationPassed     ValidationStatus = "passed"
	ValidationFailed     ValidationStatus = "failed"
	ValidationError      ValidationStatus = "error"
)

// ParseValidationStatus rejects unknown validation statuses.
func ParseValidationStatus(s string) (ValidationStatus, error) {
	switch ValidationStatus(s) {
	case ValidationPending, ValidationInProgress, ValidationPassed, ValidationFailed, ValidationError:
		return ValidationStatus(s), nil
	}
	return "", fmt.Errorf("unknown validation status %q", s)
}

// IntegrityIssue is a typed, severity-ranked inconsistency between a position
// and its executions.
// Corresponds to integrity_issues table in PostgreSQL.
type IntegrityIssue struct {
	ID           int64
	ValidationID int64
	Type         IssueType
	Severity     Severity
	Description  string
	Status       ResolutionStatus
	PositionID   *int64
	ExecutionID  *int64
	Metadata     map[string]any
	Fingerprint  string // deterministic, see ComputeFingerprint

	DetectedAt       int64
	ResolvedAt       *int64
	ResolutionMethod string
	ResolutionNotes  string

	// Repair audit
	RepairAttempted   bool
	RepairMethod      string
	RepairSuccessful  *bool
	RepairAttemptedAt *int64
	RepairDetails     map[string]any
}

// NewIntegrityIssue builds an open issue and computes its fingerprint.
// An empty description is rejected.
func NewIntegrityIssue(t IssueType, sev Severity, description string, positionID, executionID *int64, metadata map[string]any, detectedAt int64) (IntegrityIssue, error) {
	if description == "" {
		return IntegrityIssue{}, fmt.Errorf("%w: description is required", ErrInvalidIssue)
	}
	if _, err := ParseIssueType(string(t)); err != nil {
		return IntegrityIssue{}, err
	}
	if _, err := ParseSeverity(string(sev)); err != nil {
		return IntegrityIssue{}, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	issue := IntegrityIssue{
		Type:        t,
		Severity:    sev,
		Description: description,
		Status:      ResolutionOpen,
		PositionID:  cloneInt(positionID),
		ExecutionID: cloneInt(executionID),
		Metadata:    metadata,
		DetectedAt:  detectedAt,
	}
	issue.Fingerprint = ComputeFingerprint(issue)
	return issue, nil
}

// ComputeFingerprint computes a deterministic issue fingerprint using SHA256.
// Formula: SHA256(type|severity|position_id|execution_id|description)
func ComputeFingerprint(i IntegrityIssue) string {
	pos, exec := "", ""
	if i.PositionID != nil {
		pos = fmt.Sprintf("%d", *i.PositionID)
	}
	if i.ExecutionID != nil {
		exec = fmt.Sprintf("%d", *i.ExecutionID)
	}
	data := fmt.Sprintf("%s|%s|%s|%s|%s", i.Type, i.Severity, pos, exec, i.Description)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// MarkResolved resolves the issue. resolvedAt must not precede DetectedAt.
func (i *IntegrityIssue) MarkResolved(method, notes string, resolvedAt int64) error {
	if resolvedAt < i.DetectedAt {
		return fmt.Errorf("%w: resolved_at %d before detected_at %d", ErrInvalidIssue, resolvedAt, i.DetectedAt)
	}
	i.Status = ResolutionResolved
	i.ResolvedAt = &resolvedAt
	i.ResolutionMethod = method
	i.ResolutionNotes = notes
	return nil
}

// MarkFailed records a failed resolution attempt.
func (i *IntegrityIssue) MarkFailed(method, message string) {
	i.Status = ResolutionFailed
	i.ResolutionMethod = method
	i.ResolutionNotes = message
}

// IssueFilter narrows issue queries. Zero values match everything.
type IssueFilter struct {
	PositionID   *int64
	ValidationID *int64
	Type         IssueType
	Severity     Severity
	Status       ResolutionStatus
	Limit        int
}

// Matches reports whether the issue satisfies the filter.
func (f IssueFilter) Matches(i *IntegrityIssue) bool {
	if f.PositionID != nil && (i.PositionID == nil || *i.PositionID != *f.PositionID) {
		return false
	}
	if f.ValidationID != nil && i.ValidationID != *f.ValidationID {
		return false
	}
	if f.Type != "" && i.Type != f.Type {
		return false
	}
	if f.Severity != "" && i.Severity != f.Severity {
		return false
	}
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	return true
}

// RepairInfo is the repair audit written back to an issue.
type RepairInfo struct {
	Method      string
	Successful  bool
	AttemptedAt int64
	Details     map[string]any
}

// ValidationResult is the outcome of validating one position (or one system check).
// Corresponds to validation_results table in PostgreSQL.
type ValidationResult struct {
	ID           int64
	PositionID   *int64 // nil for dataset-wide checks
	CheckType    string // "position" | "orphaned_executions" | "positions_without_executions"
	Status       ValidationStatus
	IssueCount   int
	Timestamp    int64
	CompletedAt  *int64
	ErrorMessage string
}

// Validation check types
const (
	CheckPosition                   = "position"
	CheckOrphanedExecutions         = "orphaned_executions"
	CheckPositionsWithoutExecutions = "positions_without_executions"
)

// RepairStatus is the outcome of one repair attempt.
type RepairStatus string

// RepairStatus constants
const (
	RepairSuccess       RepairStatus = "success"
	RepairPartial       RepairStatus = "partial"
	RepairFailed        RepairStatus = "failed"
	RepairNotRepairable RepairStatus = "not_repairable"
)

// RepairResult describes what a repair did (or would do, for dry runs).
type RepairResult struct {
	IssueID  int64
	Status   RepairStatus
	Method   string
	Changes  []string // ordered, human-readable
	DryRun   bool
	Metadata map[string]any // before/after values
	Error    string
}

// BatchRun summarizes one dataset-wide validation run.
// Corresponds to batch_runs table in ClickHouse.
type BatchRun struct {
	RunID            string
	StartedAt        int64
	CompletedAt      int64
	PositionsChecked int
	Passed           int
	Failed           int
	Errored          int
	Skipped          int // not started before the time limit
	IssueCount       int
	CriticalCount    int
	OrphanedCount    int
	TimedOut         bool
}

// NeedsAttention reports whether the run must be forwarded to the notification sink.
func (r BatchRun) NeedsAttention() bool {
	return r.CriticalCount > 0 || r.Failed > 10
}
