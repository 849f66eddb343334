package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"position-ledger/internal/orchestrator"
)

// repairCmd represents the repair command
var repairCmd = &cobra.Command{
	Use:   "repair [position-id]",
	Short: "Auto-repair the open integrity issues of a position",
	Long: `Repair the unresolved issues of one position, or of every position whose
last validation failed with --all. With --dry-run the changes are listed but
nothing is written.

Examples:
  positionctl repair 12 --dry-run
  positionctl repair --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepair,
}

// Repair command flags
var (
	repairDryRun bool
	repairAll    bool
)

func init() {
	rootCmd.AddCommand(repairCmd)

	repairCmd.Flags().BoolVar(&repairDryRun, "dry-run", false, "Report changes without writing them")
	repairCmd.Flags().BoolVar(&repairAll, "all", false, "Repair every failed position")
}

func runRepair(cmd *cobra.Command, args []string) error {
	if repairAll == (len(args) == 1) {
		return fmt.Errorf("give exactly one of a position id or --all")
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var summaries []*orchestrator.RepairSummary
	if repairAll {
		summaries, err = a.Orchestrator.RepairFailedPositions(ctx, repairDryRun)
		if err != nil {
			return err
		}
	} else {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		summary, err := a.Orchestrator.AttemptAutoRepair(ctx, ids[0], repairDryRun)
		if err != nil {
			return err
		}
		summaries = append(summaries, summary)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, summaries)
	}
	for _, s := range summaries {
		label := ""
		if s.DryRun {
			label = " (dry run)"
		}
		fmt.Fprintf(out, "position %d%s: %d issue(s), changed=%v\n", s.PositionID, label, len(s.Results), s.Changed)
		for _, r := range s.Results {
			line := fmt.Sprintf("  issue %d %s %s", r.IssueID, r.Method, r.Status)
			if len(r.Changes) > 0 {
				line += ": " + strings.Join(r.Changes, "; ")
			}
			if r.Error != "" {
				line += " (" + r.Error + ")"
			}
			fmt.Fprintln(out, line)
		}
		if s.Revalidation != nil {
			fmt.Fprintf(out, "  revalidated: %s score=%.0f\n", s.Revalidation.Report.Result.Status, s.Revalidation.Report.Score)
		}
	}
	return nil
}
