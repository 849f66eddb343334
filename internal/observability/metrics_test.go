package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"position-ledger/internal/domain"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordPositionBuilt(domain.PositionClosed)
	m.RecordPositionBuilt(domain.PositionClosed)
	m.RecordValidation(domain.CheckPosition, domain.ValidationFailed, []domain.IntegrityIssue{
		{Type: domain.IssueQuantityMismatch, Severity: domain.SeverityHigh},
	})
	m.RecordRepair("", domain.RepairNotRepairable)
	m.RecordBatchRun(domain.BatchRun{TimedOut: true}, 2*time.Second)
	m.RecordNotification(errors.New("down"))

	if got := testutil.ToFloat64(m.PositionsBuilt.WithLabelValues("closed")); got != 2 {
		t.Errorf("positions built: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.IssuesDetected.WithLabelValues("quantity_mismatch", "high")); got != 1 {
		t.Errorf("issues detected: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.RepairsTotal.WithLabelValues("none", "not_repairable")); got != 1 {
		t.Errorf("repairs: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.BatchRunsTotal.WithLabelValues("timed_out")); got != 1 {
		t.Errorf("batch runs: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("error")); got != 1 {
		t.Errorf("notifications: expected 1, got %v", got)
	}
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic
	NewMetrics("", prometheus.NewRegistry())
	NewMetrics("", prometheus.NewRegistry())
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", &buf)
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", logger.GetLevel())
	}

	buf.Reset()
	logger = NewLogger("chatty", &buf)
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info fallback", logger.GetLevel())
	}
	if !strings.Contains(buf.String(), "unknown log level") {
		t.Errorf("expected fallback warning, got %q", buf.String())
	}
}
