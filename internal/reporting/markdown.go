package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Position Integrity Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Positions
	st := r.Statistics
	sb.WriteString("## Positions\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total | %d |\n", st.TotalPositions))
	sb.WriteString(fmt.Sprintf("| Open | %d |\n", st.OpenPositions))
	sb.WriteString(fmt.Sprintf("| Closed | %d |\n", st.ClosedPositions))
	sb.WriteString(fmt.Sprintf("| Winners | %d |\n", st.Winners))
	sb.WriteString(fmt.Sprintf("| Losers | %d |\n", st.Losers))
	sb.WriteString(fmt.Sprintf("| Win Rate | %.2f%% |\n", st.WinRate*100))
	sb.WriteString(fmt.Sprintf("| Net P&L | %.2f |\n", st.TotalDollarsPnL))
	sb.WriteString(fmt.Sprintf("| Commission | %.2f |\n", st.TotalCommission))
	sb.WriteString("\n")

	// Issues
	sb.WriteString("## Integrity Issues\n\n")
	if len(r.ByStatus) == 0 {
		sb.WriteString("No issues recorded.\n\n")
	} else {
		writeCounts(&sb, "Status", r.ByStatus)
		if len(r.BySeverity) > 0 {
			writeCounts(&sb, "Open by Severity", r.BySeverity)
			writeCounts(&sb, "Open by Type", r.ByType)
		}
	}

	if len(r.OpenIssues) > 0 {
		sb.WriteString("### Open Issues\n\n")
		sb.WriteString("| ID | Position | Type | Severity | Detected (ms) | Description |\n")
		sb.WriteString("|----|----------|------|----------|---------------|-------------|\n")
		for _, i := range r.OpenIssues {
			pos := "-"
			if i.PositionID != nil {
				pos = fmt.Sprintf("%d", *i.PositionID)
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %d | %s |\n",
				i.ID, pos, i.Type, i.Severity, i.DetectedAt, escapeCell(i.Description)))
		}
		sb.WriteString("\n")
	}

	// Runs
	sb.WriteString("## Recent Validation Runs\n\n")
	if len(r.Runs) == 0 {
		sb.WriteString("No runs recorded.\n")
		return sb.String()
	}
	sb.WriteString("| Run | Started (ms) | Checked | Passed | Failed | Errored | Skipped | Critical | Orphaned |\n")
	sb.WriteString("|-----|--------------|---------|--------|--------|---------|---------|----------|----------|\n")
	for _, run := range r.Runs {
		timedOut := ""
		if run.TimedOut {
			timedOut = " (timed out)"
		}
		sb.WriteString(fmt.Sprintf("| %s%s | %d | %d | %d | %d | %d | %d | %d | %d |\n",
			run.RunID, timedOut, run.StartedAt, run.PositionsChecked, run.Passed, run.Failed,
			run.Errored, run.Skipped, run.CriticalCount, run.OrphanedCount))
	}
	return sb.String()
}

func writeCounts(sb *strings.Builder, title string, rows []CountRow) {
	sb.WriteString(fmt.Sprintf("### %s\n\n", title))
	sb.WriteString("| Key | Count |\n")
	sb.WriteString("|-----|-------|\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", r.Key, r.Count))
	}
	sb.WriteString("\n")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
