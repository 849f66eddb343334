package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"position-ledger/internal/domain"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show position statistics and recent validation runs",
	RunE:  runStats,
}

// Stats command flags
var (
	statsAccount    string
	statsInstrument string
	statsRuns       int
)

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsAccount, "account", "", "Filter by account")
	statsCmd.Flags().StringVar(&statsInstrument, "instrument", "", "Filter by instrument")
	statsCmd.Flags().IntVar(&statsRuns, "runs", 5, "Number of recent validation runs to show")
}

type statsOutput struct {
	Statistics *domain.PositionStatistics `json:"statistics"`
	OpenIssues int                        `json:"open_issues"`
	Runs       []*domain.BatchRun         `json:"runs"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch := a.Orchestrator
	stats, err := orch.Statistics(ctx, domain.PositionFilter{Account: statsAccount, Instrument: statsInstrument})
	if err != nil {
		return err
	}
	open, err := orch.Issues(ctx, domain.IssueFilter{Status: domain.ResolutionOpen})
	if err != nil {
		return err
	}
	runs, err := orch.RecentRuns(ctx, statsRuns)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, statsOutput{Statistics: stats, OpenIssues: len(open), Runs: runs})
	}

	fmt.Fprintf(out, "positions: %d (open %d, closed %d)\n", stats.TotalPositions, stats.OpenPositions, stats.ClosedPositions)
	fmt.Fprintf(out, "winners: %d  losers: %d  win rate: %.1f%%\n", stats.Winners, stats.Losers, stats.WinRate*100)
	fmt.Fprintf(out, "pnl: %.2f  commission: %.2f\n", stats.TotalDollarsPnL, stats.TotalCommission)
	fmt.Fprintf(out, "open issues: %d\n", len(open))

	if len(runs) == 0 {
		return nil
	}
	tw := newTable(out)
	fmt.Fprintln(tw, "RUN\tCHECKED\tPASSED\tFAILED\tCRITICAL\tTIMED OUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%v\n", r.RunID, r.PositionsChecked, r.Passed, r.Failed, r.CriticalCount, r.TimedOut)
	}
	return tw.Flush()
}
