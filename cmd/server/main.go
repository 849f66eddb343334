// Package main runs the position ledger service:
// - Instrument config watcher (continuous)
// - Validate-all with optional auto-repair (scheduled, with retry)
// - HTTP: /health, /metrics, /status
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"position-ledger/internal/app"
	"position-ledger/internal/config"
	"position-ledger/internal/domain"
	"position-ledger/internal/observability"
	"position-ledger/internal/scheduler"
)

// Server holds all components of the service.
type Server struct {
	cfg     config.Config
	app     *app.App
	sched   *scheduler.Scheduler
	logger  *logrus.Logger
	started time.Time

	mu      sync.Mutex
	lastRun *domain.BatchRun
	repairs int
}

func main() {
	cfg := config.Load()

	// Flags default to env values
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	flag.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string")
	flag.BoolVar(&cfg.UseMemory, "use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for position locks (empty: in-process)")
	flag.StringVar(&cfg.KafkaBroker, "kafka-broker", cfg.KafkaBroker, "Kafka broker for batch notifications (empty: log only)")
	flag.StringVar(&cfg.InstrumentsFile, "instruments", cfg.InstrumentsFile, "Instrument multiplier/commission JSON file")
	flag.DurationVar(&cfg.ValidateInterval, "validate-interval", cfg.ValidateInterval, "Validate-all interval")
	flag.DurationVar(&cfg.BatchTimeLimit, "batch-time-limit", cfg.BatchTimeLimit, "Soft time limit of one validate-all run")
	flag.BoolVar(&cfg.AutoRepair, "auto-repair", cfg.AutoRepair, "Repair failed positions after each validate-all")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for /health, /metrics and /status")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.Parse()

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, app.Options{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.DefaultRegisterer,
		Migrate:  !cfg.UseMemory,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to start")
	}
	defer a.Close()

	server := &Server{
		cfg:     cfg,
		app:     a,
		logger:  logger,
		started: time.Now(),
	}
	server.sched = scheduler.New(server.validateJob, scheduler.Options{
		Name:       "validate-all",
		Interval:   cfg.ValidateInterval,
		MaxRetries: uint64(max(cfg.MaxRetries, 0)),
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Warn("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	httpServer := server.startHTTPServer(cfg.MetricsAddr)

	server.Run(ctx)
	close(done)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	logger.Info("shutdown complete")
}

// Run starts the watcher and the scheduler and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.logger.Info("starting position ledger server")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.app.Instruments.Watch(ctx, s.logger); err != nil {
			s.logger.WithError(err).Error("instrument watcher stopped")
		}
	}()
	go func() {
		defer wg.Done()
		s.sched.Run(ctx)
	}()
	wg.Wait()
}

// validateJob is one scheduled validate-all, followed by auto-repair when enabled.
func (s *Server) validateJob(ctx context.Context) error {
	orch := s.app.Orchestrator
	run, err := orch.ValidateAll(ctx)
	if err != nil {
		return err
	}

	repaired := 0
	if s.cfg.AutoRepair && run.Failed > 0 {
		summaries, err := orch.RepairFailedPositions(ctx, false)
		if err != nil {
			return err
		}
		for _, sum := range summaries {
			if sum.Changed {
				repaired++
			}
		}
		s.logger.WithField("repaired", repaired).Info("auto-repair completed")
	}

	s.mu.Lock()
	s.lastRun = run
	s.repairs += repaired
	s.mu.Unlock()
	return nil
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		s.logger.WithField("addr", addr).Info("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("http server error")
		}
	}()
	return srv
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status    string                     `json:"status"`
	Uptime    string                     `json:"uptime"`
	Started   time.Time                  `json:"started"`
	Scheduler scheduler.Status           `json:"scheduler"`
	LastRun   *domain.BatchRun           `json:"last_run,omitempty"`
	Repairs   int                        `json:"repairs"`
	Stats     *domain.PositionStatistics `json:"stats,omitempty"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Orchestrator.Statistics(r.Context(), domain.PositionFilter{})
	if err != nil {
		s.logger.WithError(err).Warn("status: statistics unavailable")
	}

	s.mu.Lock()
	resp := StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.started).String(),
		Started:   s.started,
		Scheduler: s.sched.Status(),
		LastRun:   s.lastRun,
		Repairs:   s.repairs,
		Stats:     stats,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
