package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate [position-id...]",
	Short: "Validate positions against their executions",
	Long: `Validate the given positions, or every position plus the dataset-wide checks
when no id is given. Results and issues are stored.

Examples:
  positionctl validate
  positionctl validate 12 13 14`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		run, err := a.Orchestrator.ValidateAll(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, run)
		}
		fmt.Fprintf(out, "run %s: checked=%d passed=%d failed=%d errored=%d skipped=%d issues=%d critical=%d orphaned=%d timed_out=%v\n",
			run.RunID, run.PositionsChecked, run.Passed, run.Failed, run.Errored, run.Skipped,
			run.IssueCount, run.CriticalCount, run.OrphanedCount, run.TimedOut)
		return nil
	}

	batch, err := a.Orchestrator.ValidatePositionsBatch(ctx, ids)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, batch)
	}

	tw := newTable(out)
	fmt.Fprintln(tw, "POSITION\tSTATUS\tSCORE\tISSUES")
	for _, o := range batch.Outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%.0f\t%d\n", o.PositionID, o.Report.Result.Status, o.Report.Score, len(o.Report.Issues))
	}
	for id, err := range batch.Errors {
		fmt.Fprintf(tw, "%d\terror\t-\t%v\n", id, err)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, o := range batch.Outcomes {
		for _, issue := range o.Report.Issues {
			fmt.Fprintf(out, "  %d [%s/%s] %s\n", o.PositionID, issue.Type, issue.Severity, issue.Description)
		}
	}
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid position id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
