package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/opspulse/opspulse/pkg/types"
)

// Latency thresholds in milliseconds.
const (
	AmberLatencyMs = 500
	RedLatencyMs   = 1500
)

// DefaultDeadline bounds a single probe.
const DefaultDeadline = 4 * time.Second

// MetricKind is the log_system_metric kind of probe records.
const MetricKind = "health_ping"

const (
	// recordTimeout bounds the detached telemetry send.
	recordTimeout = 5 * time.Second
	// Failed telemetry sends are warned about at a burst of 3, then once per
	// 10s; the rest are logged at debug level.
	warnEvery = 10 * time.Second
	warnBurst = 3
)

var errDeadline = errors.New("probe deadline exceeded")

// Checker is the remote capability a probe needs.
type Checker interface {
	HealthCheck(ctx context.Context) (types.ProbeResult, error)
	LogSystemMetric(ctx context.Context, m types.SystemMetric) error
}

// Prober runs connectivity probes against a Checker.
type Prober struct {
	checker  Checker
	deadline time.Duration
	path     string
	session  string
	warns    *rate.Limiter
	now      func() time.Time

	wg sync.WaitGroup // outstanding telemetry sends
}

// Option customises a Prober.
type Option func(*Prober)

// WithDeadline overrides DefaultDeadline.
func WithDeadline(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.deadline = d
		}
	}
}

// WithSession tags telemetry records with the session id.
func WithSession(id string) Option {
	return func(p *Prober) { p.session = id }
}

// WithWarnLimiter replaces the limiter on warnings about failed telemetry
// sends. Records themselves are never limited.
func WithWarnLimiter(l *rate.Limiter) Option {
	return func(p *Prober) { p.warns = l }
}

// New returns a Prober. path is reported as the probed path in telemetry.
func New(checker Checker, path string, opts ...Option) *Prober {
	p := &Prober{
		checker:  checker,
		deadline: DefaultDeadline,
		path:     path,
		warns:    rate.NewLimiter(rate.Every(warnEvery), warnBurst),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Classify maps a probe result onto a connectivity state.
func Classify(res types.ProbeResult) types.State {
	switch {
	case !res.Healthy || res.LatencyMs > RedLatencyMs:
		return types.StateRed
	case res.LatencyMs > AmberLatencyMs:
		return types.StateAmber
	default:
		return types.StateGreen
	}
}

// Probe runs one health check bounded by the probe deadline. It returns
// ok=false, and no status, when ctx itself was cancelled (superseded, torn
// down or timed out by its owner).
func (p *Prober) Probe(ctx context.Context) (status types.ConnectivityStatus, ok bool) {
	pctx, cancel := context.WithTimeoutCause(ctx, p.deadline, errDeadline)
	defer cancel()

	res, err := p.checker.HealthCheck(pctx)
	if ctx.Err() != nil {
		slog.Debug("probe: cancelled", "cause", context.Cause(ctx))
		return types.ConnectivityStatus{}, false
	}

	status = types.ConnectivityStatus{CheckedAt: p.now()}
	switch {
	case err != nil && errors.Is(context.Cause(pctx), errDeadline):
		status.State = types.StateRed
		status.Message = types.Ptr(fmt.Sprintf("timeout after %dms", p.deadline.Milliseconds()))
	case err != nil:
		status.State = types.StateRed
		status.Message = types.Ptr(err.Error())
	default:
		status.State = Classify(res)
		status.LatencyMs = types.Ptr(res.LatencyMs)
		if !res.Healthy {
			status.Message = types.Ptr("remote service reported unhealthy")
		}
	}

	slog.Info("probe: completed", "state", status.State, "latency_ms", res.LatencyMs, "err", err)
	p.record(ctx, status, err == nil && res.Healthy)
	return status, true
}

// record sends a health_ping record for every completed probe without
// blocking the caller. The send survives cancellation of ctx; its failure is
// logged and dropped.
func (p *Prober) record(ctx context.Context, status types.ConnectivityStatus, healthy bool) {
	m := types.SystemMetric{
		Kind:      MetricKind,
		OK:        healthy,
		LatencyMs: status.LatencyMs,
		Path:      p.path,
		Message:   status.Message,
		Meta: map[string]any{
			"probe_id": uuid.NewString(),
			"state":    string(status.State),
		},
	}
	if p.session != "" {
		m.Meta["session_id"] = p.session
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		if err := p.checker.LogSystemMetric(sendCtx, m); err != nil {
			if p.warns.Allow() {
				slog.Warn("probe: telemetry record failed", "err", err)
				return
			}
			slog.Debug("probe: telemetry record failed", "err", err)
		}
	}()
}

// Wait blocks until every in-flight telemetry record has been sent or has
// failed.
func (p *Prober) Wait() { p.wg.Wait() }
