package remote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"

	"github.com/opspulse/opspulse/agent/internal/config"
	"github.com/opspulse/opspulse/pkg/types"
)

// Observer receives per-call outcomes. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	CallDone(fn string, elapsed time.Duration, err error)
	Retried(fn string)
	BreakerChanged(to string)
}

type nopObserver struct{}

func (nopObserver) CallDone(string, time.Duration, error) {}
func (nopObserver) Retried(string)                        {}
func (nopObserver) BreakerChanged(string)                 {}

type delayFunc func(n uint, err error, config retry.DelayContext) time.Duration

// Reliable wraps a Client with a circuit breaker and retries for the
// idempotent reads. Writes (log_system_metric, clear_metrics) go through
// the breaker once. HealthCheck bypasses both: it is itself the measurement
// of whether the service is reachable.
type Reliable struct {
	next     Client
	cb       *gobreaker.CircuitBreaker
	attempts uint
	delay    delayFunc
	obs      Observer
	now      func() time.Time
}

// ReliableOption customises a Reliable.
type ReliableOption func(*Reliable)

// WithObserver reports call outcomes to o.
func WithObserver(o Observer) ReliableOption {
	return func(r *Reliable) { r.obs = o }
}

// NewReliable wraps next using the retry and breaker settings in cfg.
func NewReliable(next Client, cfg config.RemoteConfig, opts ...ReliableOption) *Reliable {
	r := &Reliable{
		next:     next,
		attempts: uint(max(cfg.RetryAttempts, 1)),
		delay:    retry.BackOffDelay,
		obs:      nopObserver{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}

	maxFailures := uint32(max(cfg.Breaker.MaxFailures, 1))
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Cancellations and rejected arguments say nothing about the
		// service's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) || permanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("remote: circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
			r.obs.BreakerChanged(to.String())
		},
	})
	return r
}

func (r *Reliable) GetMetricsSummary(ctx context.Context, windowSeconds, limit int) ([]types.RawMetricRow, error) {
	var rows []types.RawMetricRow
	err := r.read(ctx, FnMetricsSummary, func(ctx context.Context) error {
		var err error
		rows, err = r.next.GetMetricsSummary(ctx, windowSeconds, limit)
		return err
	})
	return rows, err
}

func (r *Reliable) GetSystemStatusSummary(ctx context.Context, windowMinutes int) (types.StatusSummary, error) {
	var s types.StatusSummary
	err := r.read(ctx, FnStatusSummary, func(ctx context.Context) error {
		var err error
		s, err = r.next.GetSystemStatusSummary(ctx, windowMinutes)
		return err
	})
	return s, err
}

func (r *Reliable) CountOrdersSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.read(ctx, FnCountOrders, func(ctx context.Context) error {
		var err error
		n, err = r.next.CountOrdersSince(ctx, since)
		return err
	})
	return n, err
}

func (r *Reliable) LogSystemMetric(ctx context.Context, m types.SystemMetric) error {
	return r.write(ctx, FnLogMetric, func(ctx context.Context) error {
		return r.next.LogSystemMetric(ctx, m)
	})
}

func (r *Reliable) ClearMetrics(ctx context.Context, olderThanDays int) error {
	return r.write(ctx, FnClearMetrics, func(ctx context.Context) error {
		return r.next.ClearMetrics(ctx, olderThanDays)
	})
}

func (r *Reliable) HealthCheck(ctx context.Context) (types.ProbeResult, error) {
	start := r.now()
	res, err := r.next.HealthCheck(ctx)
	r.obs.CallDone(FnHealth, r.now().Sub(start), err)
	return res, err
}

// BreakerState returns the breaker's current state name.
func (r *Reliable) BreakerState() string { return r.cb.State().String() }

// read retries fn with backoff inside the breaker. Permanent rejections and
// cancellations stop the retry loop immediately.
func (r *Reliable) read(ctx context.Context, fn string, call func(context.Context) error) error {
	start := r.now()
	_, err := r.cb.Execute(func() (interface{}, error) {
		var lastErr, stop error
		attempt := 0
		rt := retry.New(
			retry.Context(ctx),
			retry.Attempts(r.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				return r.delay(n, err, config)
			}),
		)
		retryErr := rt.Do(func() error {
			if attempt > 0 {
				r.obs.Retried(fn)
			}
			attempt++
			err := call(ctx)
			if err != nil && (permanent(err) || ctx.Err() != nil) {
				stop = err
				return nil
			}
			lastErr = err
			return err
		})
		switch {
		case stop != nil:
			return nil, stop
		case retryErr == nil:
			return nil, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case lastErr != nil:
			return nil, lastErr
		default:
			return nil, retryErr
		}
	})
	r.obs.CallDone(fn, r.now().Sub(start), err)
	return err
}

func (r *Reliable) write(ctx context.Context, fn string, call func(context.Context) error) error {
	start := r.now()
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, call(ctx)
	})
	r.obs.CallDone(fn, r.now().Sub(start), err)
	return err
}
