package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"position-ledger/internal/domain"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <executions.json>",
	Short: "Store executions from a JSON file",
	Long: `Store executions from a JSON array. Each element has external_id, account,
instrument, side, quantity, price, timestamp (Unix ms) and optional commission.
The whole file is stored atomically.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// importRecord is the JSON form of an execution.
type importRecord struct {
	ExternalID string  `json:"external_id"`
	Account    string  `json:"account"`
	Instrument string  `json:"instrument"`
	Side       string  `json:"side"`
	Quantity   int64   `json:"quantity"`
	Price      float64 `json:"price"`
	Timestamp  int64   `json:"timestamp"`
	Commission float64 `json:"commission"`
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var records []importRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	execs := make([]*domain.Execution, 0, len(records))
	for i, r := range records {
		side, ok := domain.ParseSide(r.Side)
		if !ok {
			return fmt.Errorf("record %d: unknown side %q", i, r.Side)
		}
		execs = append(execs, &domain.Execution{
			ExternalID: r.ExternalID,
			Account:    r.Account,
			Instrument: r.Instrument,
			Side:       side,
			Quantity:   r.Quantity,
			Price:      r.Price,
			Timestamp:  r.Timestamp,
			Commission: r.Commission,
		})
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Stores.Executions.InsertBulk(ctx, execs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d executions\n", len(execs))
	return nil
}
