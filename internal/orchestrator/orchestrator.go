// Package orchestrator coordinates the position ledger against its stores.
// It rebuilds positions from executions, validates stored positions and drives
// auto-repair: rebuild → persist → validate → repair.
package orchestrator

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"position-ledger/internal/instrument"
	"position-ledger/internal/integrity"
	"position-ledger/internal/lock"
	"position-ledger/internal/notify"
	"position-ledger/internal/observability"
	"position-ledger/internal/storage"
)

// DefaultWorkers is the number of groups rebuilt in parallel.
const DefaultWorkers = 4

// Orchestrator coordinates builds, validations and repairs.
type Orchestrator struct {
	// Stores
	executions  storage.ExecutionStore
	positions   storage.PositionStore
	validations storage.ValidationStore
	batchRuns   storage.BatchRunStore

	instruments instrument.Config
	validator   *integrity.Validator
	repairer    *integrity.Repairer
	locker      lock.Locker
	notifier    notify.Notifier
	metrics     *observability.Metrics
	logger      logrus.FieldLogger

	workers        int
	batchTimeLimit time.Duration
	now            func() time.Time
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	Executions  storage.ExecutionStore
	Positions   storage.PositionStore
	Validations storage.ValidationStore

	// Optional: batch history is not kept without it
	BatchRuns storage.BatchRunStore

	Instruments instrument.Config      // default: multiplier 1, no commission
	Locker      lock.Locker            // default: in-process keyed mutex
	Notifier    notify.Notifier        // default: none
	Metrics     *observability.Metrics // default: private registry
	Logger      logrus.FieldLogger     // default: discard

	Workers        int           // parallel group rebuilds, default DefaultWorkers
	BatchTimeLimit time.Duration // ValidateAll wall-clock ceiling, 0 = none
	Now            func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Instruments == nil {
		opts.Instruments = instrument.NewStore(nil, nil)
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics("", prometheus.NewRegistry())
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		executions:     opts.Executions,
		positions:      opts.Positions,
		validations:    opts.Validations,
		batchRuns:      opts.BatchRuns,
		instruments:    opts.Instruments,
		validator:      integrity.NewValidator(opts.Logger).WithClock(opts.Now),
		repairer:       integrity.NewRepairer(opts.Logger),
		locker:         opts.Locker,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		workers:        opts.Workers,
		batchTimeLimit: opts.BatchTimeLimit,
		now:            opts.Now,
	}
}

func (o *Orchestrator) nowMs() int64 {
	return o.now().UnixMilli()
}
