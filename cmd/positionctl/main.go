// Package main provides positionctl, the command line for the position ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"position-ledger/internal/app"
	"position-ledger/internal/config"
	"position-ledger/internal/observability"
)

// Root flags
var (
	cfg        config.Config
	jsonOutput bool
)

// rootCmd is the base command for positionctl
var rootCmd = &cobra.Command{
	Use:   "positionctl",
	Short: "Build, validate and repair trading positions",
	Long: `positionctl rebuilds positions from stored executions, validates them
against their executions and repairs the issues it can fix.

Connection settings default to POSTGRES_DSN, CLICKHOUSE_DSN, REDIS_ADDR and
the other environment variables (a .env file is read if present).`,
	SilenceUsage: true,
}

func init() {
	cfg = config.Load()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	pf.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string")
	pf.BoolVar(&cfg.UseMemory, "use-memory", cfg.UseMemory, "Use in-memory storage (data is lost on exit)")
	pf.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for position locks")
	pf.StringVar(&cfg.InstrumentsFile, "instruments", cfg.InstrumentsFile, "Instrument multiplier/commission JSON file")
	pf.IntVar(&cfg.BatchWorkers, "workers", cfg.BatchWorkers, "Groups rebuilt in parallel")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *logrus.Logger {
	return observability.NewLogger(cfg.LogLevel, os.Stderr)
}

// openApp connects to the configured backends. Notifications only go to the log.
func openApp(ctx context.Context) (*app.App, error) {
	c := cfg
	c.KafkaBroker = ""
	return app.Open(ctx, app.Options{Config: c, Logger: newLogger()})
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
