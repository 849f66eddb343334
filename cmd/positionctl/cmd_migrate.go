package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"position-ledger/internal/app"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL and ClickHouse schema migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	applied, err := app.Migrate(cmd.Context(), cfg, newLogger())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "schema up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(out, "applied %s\n", name)
	}
	return nil
}
