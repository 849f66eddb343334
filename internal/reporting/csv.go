package reporting

import (
	"encoding/csv"
	"io"
	"strconv"

	"position-ledger/internal/domain"
)

var issueHeader = []string{
	"id", "validation_id", "position_id", "execution_id", "issue_type", "severity",
	"status", "detected_at", "resolved_at", "resolution_method", "fingerprint", "description",
}

// WriteIssuesCSV writes issues as CSV.
func WriteIssuesCSV(w io.Writer, issues []domain.IntegrityIssue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(issueHeader); err != nil {
		return err
	}
	for _, i := range issues {
		row := []string{
			strconv.FormatInt(i.ID, 10),
			strconv.FormatInt(i.ValidationID, 10),
			optInt(i.PositionID),
			optInt(i.ExecutionID),
			string(i.Type),
			string(i.Severity),
			string(i.Status),
			strconv.FormatInt(i.DetectedAt, 10),
			optInt(i.ResolvedAt),
			i.ResolutionMethod,
			i.Fingerprint,
			i.Description,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
