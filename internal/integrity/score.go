package integrity

import "position-ledger/internal/domain"

// Score maps a validation outcome to a 0-100 integrity score.
// passed is 100, error is 0, failed subtracts the severity weight of every issue.
func Score(status domain.ValidationStatus, issues []domain.IntegrityIssue) float64 {
	switch status {
	case domain.ValidationPassed:
		return 100
	case domain.ValidationError:
		return 0
	case domain.ValidationFailed:
		score := 100.0
		for _, i := range issues {
			score -= i.Severity.Weight()
		}
		return max(score, 0)
	case domain.ValidationPending, domain.ValidationInProgress:
		return 0
	}
	return 0
}

// CountBySeverity tallies issues per severity.
func CountBySeverity(issues []domain.IntegrityIssue) map[domain.Severity]int {
	counts := make(map[domain.Severity]int)
	for _, i := range issues {
		counts[i.Severity]++
	}
	return counts
}
