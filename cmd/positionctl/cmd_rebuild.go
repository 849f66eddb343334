package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"position-ledger/internal/domain"
	"position-ledger/internal/orchestrator"
)

// rebuildCmd represents the rebuild command
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild positions from executions",
	Long: `Delete the positions of every (account, instrument) group and rebuild them
from the group's executions. Use --account and --instrument to rebuild one group.

Examples:
  positionctl rebuild
  positionctl rebuild --account ACC1 --instrument NQ`,
	RunE: runRebuild,
}

// Rebuild command flags
var (
	rebuildAccount    string
	rebuildInstrument string
)

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().StringVar(&rebuildAccount, "account", "", "Account of the group to rebuild")
	rebuildCmd.Flags().StringVar(&rebuildInstrument, "instrument", "", "Instrument of the group to rebuild")
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	if (rebuildAccount == "") != (rebuildInstrument == "") {
		return fmt.Errorf("--account and --instrument must be given together")
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var groups []orchestrator.RebuildResult
	if rebuildAccount != "" {
		res, err := a.Orchestrator.RebuildGroup(ctx, domain.Group{Account: rebuildAccount, Instrument: rebuildInstrument})
		if err != nil {
			return err
		}
		groups = append(groups, *res)
	} else {
		summary, err := a.Orchestrator.RebuildAll(ctx)
		if err != nil {
			return err
		}
		groups = summary.Groups
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, groups)
	}

	tw := newTable(out)
	fmt.Fprintln(tw, "ACCOUNT\tINSTRUMENT\tDELETED\tCREATED\tDIAGNOSTICS")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", g.Group.Account, g.Group.Instrument, g.Deleted, len(g.PositionIDs), len(g.Diagnostics))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, g := range groups {
		for _, d := range g.Diagnostics {
			fmt.Fprintf(out, "  %s [%s] %s\n", g.Group, d.Code, d.Message)
		}
	}
	return nil
}
