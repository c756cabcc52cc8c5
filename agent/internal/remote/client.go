package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opspulse/opspulse/pkg/types"
)

// Remote function names.
const (
	FnMetricsSummary = "get_metrics_summary"
	FnStatusSummary  = "get_system_status_summary"
	FnLogMetric      = "log_system_metric"
	FnClearMetrics   = "clear_metrics"
	FnCountOrders    = "count_orders_since"
	FnHealth         = "health"
)

// Client is the remote aggregation service as seen by the engine.
type Client interface {
	GetMetricsSummary(ctx context.Context, windowSeconds, limit int) ([]types.RawMetricRow, error)
	GetSystemStatusSummary(ctx context.Context, windowMinutes int) (types.StatusSummary, error)
	LogSystemMetric(ctx context.Context, m types.SystemMetric) error
	CountOrdersSince(ctx context.Context, since time.Time) (int, error)
	HealthCheck(ctx context.Context) (types.ProbeResult, error)
	ClearMetrics(ctx context.Context, olderThanDays int) error
}

// Error is a failure reported by the remote service itself.
type Error struct {
	Fn      string
	Status  int // HTTP status (gRPC codes are mapped); 0 when unknown
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: status %d: %s", e.Fn, e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Fn, e.Message)
}

// Message returns the remote-provided message carried by err, or fallback
// when err is not a *Error or has no message.
func Message(err error, fallback string) string {
	var re *Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return fallback
}

// permanent reports whether err is a remote rejection that retrying the
// same call cannot fix.
func permanent(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	return re.Status >= 400 && re.Status < 500 && re.Status != 408 && re.Status != 429
}
