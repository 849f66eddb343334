// Package app wires configuration into stores, locks, notifications and the
// orchestrator for the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"position-ledger/internal/config"
	"position-ledger/internal/instrument"
	"position-ledger/internal/lock"
	"position-ledger/internal/notify"
	"position-ledger/internal/observability"
	"position-ledger/internal/orchestrator"
	"position-ledger/internal/storage"
	chstore "position-ledger/internal/storage/clickhouse"
	"position-ledger/internal/storage/memory"
	"position-ledger/internal/storage/migrations"
	pgstore "position-ledger/internal/storage/postgres"
)

// Stores holds all storage implementations.
type Stores struct {
	Executions  storage.ExecutionStore
	Positions   storage.PositionStore
	Validations storage.ValidationStore
	BatchRuns   storage.BatchRunStore
}

// App is a wired service.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Stores       Stores
	Instruments  *instrument.Store
	Metrics      *observability.Metrics

	closers []func()
}

// Options for Open.
type Options struct {
	Config   config.Config
	Logger   *logrus.Logger
	Registry prometheus.Registerer // default: private registry
	Migrate  bool                  // apply embedded migrations before use
}

// Open connects to the configured backends and builds the orchestrator.
// Close must be called on success.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	instruments := instrument.NewStore(nil, nil)
	if cfg.InstrumentsFile != "" {
		var err error
		if instruments, err = instrument.Load(cfg.InstrumentsFile); err != nil {
			return nil, err
		}
	}
	a.Instruments = instruments

	stores, err := a.openStores(ctx, cfg, logger, opts.Migrate)
	if err != nil {
		return nil, err
	}
	a.Stores = *stores

	locker, err := a.openLocker(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a.Metrics = observability.NewMetrics("", reg)

	a.Orchestrator = orchestrator.New(orchestrator.Options{
		Executions:     stores.Executions,
		Positions:      stores.Positions,
		Validations:    stores.Validations,
		BatchRuns:      stores.BatchRuns,
		Instruments:    instruments,
		Locker:         locker,
		Notifier:       a.openNotifier(cfg, logger),
		Metrics:        a.Metrics,
		Logger:         logger,
		Workers:        cfg.BatchWorkers,
		BatchTimeLimit: cfg.BatchTimeLimit,
	})

	ok = true
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config, logger *logrus.Logger, migrate bool) (*Stores, error) {
	if cfg.UseMemory {
		logger.Info("using in-memory storage")
		return &Stores{
			Executions:  memory.NewExecutionStore(),
			Positions:   memory.NewPositionStore(),
			Validations: memory.NewValidationStore(),
			BatchRuns:   memory.NewBatchRunStore(),
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	var conn *chstore.Conn
	if migrate {
		if _, err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
	} else {
		conn, err = chstore.NewConn(ctx, cfg.ClickhouseDSN)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	a.closers = append(a.closers, func() { conn.Close() })

	return &Stores{
		Executions:  pgstore.NewExecutionStore(pool),
		Positions:   pgstore.NewPositionStore(pool),
		Validations: pgstore.NewValidationStore(pool),
		BatchRuns:   chstore.NewBatchRunStore(conn),
	}, nil
}

func (a *App) openLocker(ctx context.Context, cfg config.Config, logger *logrus.Logger) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		return lock.NewKeyedMutex(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, func() { client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.WithField("addr", cfg.RedisAddr).Info("using redis position locks")
	return lock.NewRedisLocker(client, logger), nil
}

func (a *App) openNotifier(cfg config.Config, logger *logrus.Logger) notify.Notifier {
	if cfg.KafkaBroker == "" {
		return notify.NewLogNotifier(logger)
	}
	n := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaNotifyTopic), logger)
	a.closers = append(a.closers, func() { n.Close() })
	logger.WithFields(logrus.Fields{
		"broker": cfg.KafkaBroker,
		"topic":  cfg.KafkaNotifyTopic,
	}).Info("publishing batch notifications to kafka")
	return n
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Migrate applies the embedded Postgres and ClickHouse migrations and returns
// the names of newly applied Postgres files.
func Migrate(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) ([]string, error) {
	if cfg.PostgresDSN == "" || cfg.ClickhouseDSN == "" {
		return nil, config.ErrMissingDSN
	}
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
	if err != nil {
		return applied, fmt.Errorf("postgres migrations: %w", err)
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
	if err != nil {
		return applied, fmt.Errorf("clickhouse migrations: %w", err)
	}
	conn.Close()
	return applied, nil
}
