// Package notify forwards batch validation runs that need attention.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"position-ledger/internal/domain"
)

// Notifier is informed about batch runs with critical issues or many failures.
type Notifier interface {
	NotifyBatchRun(ctx context.Context, run domain.BatchRun) error
}

// Payload is the JSON message published for a batch run.
type Payload struct {
	RunID            string `json:"run_id"`
	StartedAt        int64  `json:"started_at"`
	CompletedAt      int64  `json:"completed_at"`
	PositionsChecked int    `json:"positions_checked"`
	Passed           int    `json:"passed"`
	Failed           int    `json:"failed"`
	Errored          int    `json:"errored"`
	Skipped          int    `json:"skipped"`
	IssueCount       int    `json:"issue_count"`
	CriticalCount    int    `json:"critical_count"`
	OrphanedCount    int    `json:"orphaned_count"`
	TimedOut         bool   `json:"timed_out"`
}

// NewPayload converts a run into its message form.
func NewPayload(run domain.BatchRun) Payload {
	return Payload{
		RunID:            run.RunID,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
		PositionsChecked: run.PositionsChecked,
		Passed:           run.Passed,
		Failed:           run.Failed,
		Errored:          run.Errored,
		Skipped:          run.Skipped,
		IssueCount:       run.IssueCount,
		CriticalCount:    run.CriticalCount,
		OrphanedCount:    run.OrphanedCount,
		TimedOut:         run.TimedOut,
	}
}

// LogNotifier writes the run to the log at warning level.
type LogNotifier struct {
	logger logrus.FieldLogger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

// NotifyBatchRun logs the run summary.
func (n *LogNotifier) NotifyBatchRun(_ context.Context, run domain.BatchRun) error {
	n.logger.WithFields(logrus.Fields{
		"run_id":            run.RunID,
		"positions_checked": run.PositionsChecked,
		"failed":            run.Failed,
		"errored":           run.Errored,
		"critical_count":    run.CriticalCount,
		"orphaned_count":    run.OrphanedCount,
		"timed_out":         run.TimedOut,
	}).Warn("batch validation needs attention")
	return nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a synchronous writer for the notification topic.
func NewKafkaWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// writeTimeout bounds a single publish.
const writeTimeout = 5 * time.Second

// KafkaNotifier publishes runs as JSON, keyed by run id. Publishing goes
// through a circuit breaker so a dead broker does not stall every batch.
type KafkaNotifier struct {
	writer  MessageWriter
	breaker *gobreaker.CircuitBreaker
	logger  logrus.FieldLogger
}

// NewKafkaNotifier creates a KafkaNotifier. The breaker opens after 3
// consecutive failures and half-opens after a minute.
func NewKafkaNotifier(writer MessageWriter, logger logrus.FieldLogger) *KafkaNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	st := gobreaker.Settings{
		Name:     "kafka-notify",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("notification circuit breaker changed state")
		},
	}
	return &KafkaNotifier{
		writer:  writer,
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

// NotifyBatchRun publishes the run. Returns gobreaker.ErrOpenState while the breaker is open.
func (n *KafkaNotifier) NotifyBatchRun(ctx context.Context, run domain.BatchRun) error {
	data, err := json.Marshal(NewPayload(run))
	if err != nil {
		return fmt.Errorf("marshal batch run: %w", err)
	}

	_, err = n.breaker.Execute(func() (any, error) {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return nil, n.writer.WriteMessages(writeCtx, kafka.Message{
			Key:   []byte(run.RunID),
			Value: data,
		})
	})
	if err != nil {
		n.logger.WithError(err).WithField("run_id", run.RunID).Error("failed to publish batch run")
		return fmt.Errorf("publish batch run %s: %w", run.RunID, err)
	}
	return nil
}

// Close closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*KafkaNotifier)(nil)
)
