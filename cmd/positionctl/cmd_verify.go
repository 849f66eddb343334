package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"position-ledger/internal/verification"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare stored positions with a fresh rebuild",
	Long: `Rebuild every group in memory and compare the result with the stored
positions field by field. Nothing is written. Exits non-zero on divergence.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	v := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		Executions:  a.Stores.Executions,
		Positions:   a.Stores.Positions,
		Instruments: a.Instruments,
		Logger:      newLogger(),
	})
	report, err := v.VerifyAll(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "groups: %d matched, %d divergent\n", report.MatchedGroups, report.DivergentGroups)
		for _, g := range report.Groups {
			if !g.Diverged {
				continue
			}
			if g.ErrString != "" {
				fmt.Fprintf(out, "  %s: %s\n", g.Group, g.ErrString)
				continue
			}
			fmt.Fprintf(out, "  %s: stored=%d rebuilt=%d\n", g.Group, g.Stored, g.Rebuilt)
			for _, r := range g.Results {
				for _, d := range r.Divergences {
					fmt.Fprintf(out, "    position %d %s: stored=%v rebuilt=%v\n", r.StoredID, d.Field, d.Expected, d.Actual)
				}
			}
		}
	}
	if report.DivergentGroups > 0 {
		return fmt.Errorf("%d group(s) diverge from rebuild", report.DivergentGroups)
	}
	return nil
}
