// Package telemetry holds the agent's own Prometheus metrics.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opspulse/opspulse/agent/internal/opreg"
	"github.com/opspulse/opspulse/pkg/types"
)

// Fetch outcomes.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultDiscarded = "discarded"
)

// Metrics is the set of agent self-metrics. A Metrics satisfies
// remote.Observer.
type Metrics struct {
	RemoteDuration *prometheus.HistogramVec
	RemoteRetries  *prometheus.CounterVec
	BreakerState   prometheus.Gauge

	Fetches       *prometheus.CounterVec
	Cancellations *prometheus.CounterVec

	HealthState         prometheus.Gauge
	ConnectivityState   prometheus.Gauge
	ConnectivityLatency prometheus.Gauge
	StreamClients       prometheus.Gauge
}

// New registers the metrics with reg. A nil reg gets a private registry so
// callers that do not export metrics can still record them.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RemoteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opspulse_remote_call_duration_seconds",
			Help:    "Duration of remote service calls, including retries.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 12},
		}, []string{"fn", "result"}),

		RemoteRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opspulse_remote_retries_total",
			Help: "Retried remote calls.",
		}, []string{"fn"}),

		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "opspulse_remote_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opspulse_fetches_total",
			Help: "Engine fetches by kind and outcome (ok, error, discarded).",
		}, []string{"kind", "result"}),

		Cancellations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opspulse_cancellations_total",
			Help: "Cancelled operations by kind and reason.",
		}, []string{"kind", "reason"}),

		HealthState: f.NewGauge(prometheus.GaugeOpts{
			Name: "opspulse_health_state",
			Help: "Derived system health (0=green, 1=amber, 2=red).",
		}),

		ConnectivityState: f.NewGauge(prometheus.GaugeOpts{
			Name: "opspulse_connectivity_state",
			Help: "Connectivity state (-1=unknown, 0=green, 1=amber, 2=red).",
		}),

		ConnectivityLatency: f.NewGauge(prometheus.GaugeOpts{
			Name: "opspulse_connectivity_latency_ms",
			Help: "Latency of the last successful connectivity probe.",
		}),

		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "opspulse_stream_clients",
			Help: "Connected live-stream clients.",
		}),
	}
}

// CallDone implements remote.Observer.
func (m *Metrics) CallDone(fn string, elapsed time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.RemoteDuration.WithLabelValues(fn, result).Observe(elapsed.Seconds())
}

// Retried implements remote.Observer.
func (m *Metrics) Retried(fn string) { m.RemoteRetries.WithLabelValues(fn).Inc() }

// BreakerChanged implements remote.Observer.
func (m *Metrics) BreakerChanged(to string) {
	switch to {
	case "closed":
		m.BreakerState.Set(0)
	case "half-open":
		m.BreakerState.Set(1)
	case "open":
		m.BreakerState.Set(2)
	}
}

// Fetched counts one engine fetch of kind.
func (m *Metrics) Fetched(kind opreg.Kind, result string) {
	m.Fetches.WithLabelValues(string(kind), result).Inc()
}

// Cancelled counts a cancellation of kind. It matches opreg.Registry.OnCancel.
func (m *Metrics) Cancelled(kind opreg.Kind, cause error) {
	m.Cancellations.WithLabelValues(string(kind), Reason(cause)).Inc()
}

// Reason names a cancellation cause for labels and logs.
func Reason(cause error) string {
	switch {
	case errors.Is(cause, opreg.ErrSuperseded):
		return "superseded"
	case errors.Is(cause, opreg.ErrTimeout):
		return "timeout"
	case errors.Is(cause, opreg.ErrTornDown):
		return "torn_down"
	default:
		return "other"
	}
}

// SetHealth records the derived health state.
func (m *Metrics) SetHealth(s types.State) {
	m.HealthState.Set(stateValue(s))
}

// SetConnectivity records the latest connectivity status.
func (m *Metrics) SetConnectivity(c types.ConnectivityStatus) {
	m.ConnectivityState.Set(stateValue(c.State))
	if c.LatencyMs != nil {
		m.ConnectivityLatency.Set(*c.LatencyMs)
	}
}

func stateValue(s types.State) float64 {
	switch s {
	case types.StateGreen:
		return 0
	case types.StateAmber:
		return 1
	case types.StateRed:
		return 2
	default:
		return -1
	}
}
