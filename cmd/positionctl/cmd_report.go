package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"position-ledger/internal/domain"
	"position-ledger/internal/reporting"
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write an integrity report (Markdown) and the issue list (CSV)",
	RunE:  runReport,
}

// Report command flags
var (
	reportOut        string
	reportAccount    string
	reportInstrument string
	reportRuns       int
	reportIssues     int
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportOut, "out", "reports", "Output directory")
	reportCmd.Flags().StringVar(&reportAccount, "account", "", "Filter statistics by account")
	reportCmd.Flags().StringVar(&reportInstrument, "instrument", "", "Filter statistics by instrument")
	reportCmd.Flags().IntVar(&reportRuns, "runs", 10, "Number of recent validation runs to include")
	reportCmd.Flags().IntVar(&reportIssues, "issues", 100, "Open issues listed in the Markdown report (0 = all)")
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := reporting.Generate(ctx, a.Orchestrator, reporting.Options{
		Filter:     domain.PositionFilter{Account: reportAccount, Instrument: reportInstrument},
		RunLimit:   reportRuns,
		IssueLimit: reportIssues,
	})
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	if err := os.MkdirAll(reportOut, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	mdPath := filepath.Join(reportOut, "INTEGRITY_REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(rep)), 0644); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}

	issues, err := a.Orchestrator.Issues(ctx, domain.IssueFilter{})
	if err != nil {
		return err
	}
	csvPath := filepath.Join(reportOut, "issues.csv")
	f, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()
	if err := reporting.WriteIssuesCSV(f, issues); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s (%d open issues)\n", mdPath, csvPath, len(rep.OpenIssues))
	return nil
}
