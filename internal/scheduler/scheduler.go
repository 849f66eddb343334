// Package scheduler runs a job on a fixed interval with bounded retries.
package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Defaults for the validate-all job.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Minute
)

// ErrAlreadyRunning is returned by RunOnce while a previous run is in flight.
var ErrAlreadyRunning = errors.New("job already running")

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Options configure a Scheduler.
type Options struct {
	Name       string
	Interval   time.Duration
	MaxRetries uint64        // retries after the first attempt
	RetryDelay time.Duration // constant delay between attempts
	Timeout    time.Duration // hard limit per attempt, 0 = none
	Logger     logrus.FieldLogger
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastStart time.Time `json:"last_start"`
	LastEnd   time.Time `json:"last_end"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler runs a Job every Interval. Runs never overlap.
type Scheduler struct {
	job  Job
	opts Options

	mu     sync.Mutex
	status Status
}

// New creates a scheduler. A zero RetryDelay takes DefaultRetryDelay.
func New(job Job, opts Options) *Scheduler {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	return &Scheduler{
		job:    job,
		opts:   opts,
		status: Status{Name: opts.Name},
	}
}

// Run executes the job immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	log := s.opts.Logger.WithField("job", s.opts.Name)
	log.WithField("interval", s.opts.Interval).Info("scheduler started")

	s.tick(ctx, log)
	if s.opts.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, log)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, log logrus.FieldLogger) {
	err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		log.Warn("previous run still in progress, skipping")
	case err != nil && ctx.Err() == nil:
		log.WithError(err).Error("scheduled job failed")
	}
}

// RunOnce runs the job with retries and records the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status.Running = true
	s.status.LastStart = time.Now()
	s.mu.Unlock()

	err := s.runWithRetry(ctx)

	s.mu.Lock()
	s.status.Running = false
	s.status.LastEnd = time.Now()
	s.status.Runs++
	s.status.LastError = ""
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()
	return err
}

func (s *Scheduler) runWithRetry(ctx context.Context) error {
	log := s.opts.Logger.WithField("job", s.opts.Name)
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryDelay), s.opts.MaxRetries),
		ctx,
	)

	attempt := 0
	op := func() error {
		attempt++
		err := s.attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   next,
		}).Warn("job attempt failed")
	}
	return backoff.RetryNotify(op, policy, notify)
}

func (s *Scheduler) attempt(ctx context.Context) error {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	return s.job(ctx)
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
