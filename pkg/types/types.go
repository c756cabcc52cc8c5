package types

import "time"

// RowKind discriminates the two shapes of RawMetricRow. Any string decodes;
// consumers skip kinds they do not know.
type RowKind string

const (
	KindOp     RowKind = "op"
	KindScreen RowKind = "screen"
)

// RawMetricRow is one windowed aggregate produced by get_metrics_summary.
// Rows are immutable once received.
type RawMetricRow struct {
	Kind       RowKind    `json:"kind"`
	Op         string     `json:"op"`
	ActionType string     `json:"action_type,omitempty"`
	Path       string     `json:"path,omitempty"`
	Calls      int64      `json:"calls"`
	Errors     int64      `json:"errors"`
	P95Ms      float64    `json:"p95_ms"`
	LastTS     *time.Time `json:"last_ts"`
	RPSWindow  float64    `json:"rps_window"`
}

// Action is the business-level classification of an operation.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionLoad    Action = "load"
	ActionConfirm Action = "confirm"
	ActionOther   Action = "other"
)

// Actions lists every action in the fixed group iteration order.
var Actions = []Action{ActionCreate, ActionUpdate, ActionLoad, ActionConfirm, ActionOther}

// ActionGroup accumulates the rows classified into one Action.
type ActionGroup struct {
	Action    Action     `json:"action"`
	Calls     int64      `json:"calls"`
	Errors    int64      `json:"errors"`
	MaxP95    float64    `json:"maxP95"`
	SlowCount int64      `json:"slowCount"`
	LastSeen  *time.Time `json:"lastSeen"`
}

// State is a health level. Connectivity additionally uses StateUnknown.
type State string

const (
	StateGreen   State = "green"
	StateAmber   State = "amber"
	StateRed     State = "red"
	StateUnknown State = "unknown"
)

// HealthStatus is the derived system health.
type HealthStatus struct {
	State      State         `json:"state"`
	Actions    int64         `json:"actions"`
	Errors     int64         `json:"errors"`
	SlowGroups []ActionGroup `json:"slowGroups"`
	SlowRate   float64       `json:"slowRate"`
}

// ConnectivityStatus is owned by the connectivity prober and replaced as a
// whole on every probe completion.
type ConnectivityStatus struct {
	State     State     `json:"state"`
	LatencyMs *float64  `json:"latencyMs"`
	Message   *string   `json:"message"`
	CheckedAt time.Time `json:"checkedAt"`
}

// UnknownConnectivity is the status before any probe has completed.
func UnknownConnectivity() ConnectivityStatus {
	return ConnectivityStatus{State: StateUnknown}
}

// StatusSummary is the payload of get_system_status_summary.
type StatusSummary struct {
	AvgLatencyMs      *float64   `json:"avg_latency_ms,omitempty"`
	LastPingLatencyMs *float64   `json:"last_ping_latency_ms,omitempty"`
	LastPingAt        *time.Time `json:"last_ping_at,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	LastErrorMessage  *string    `json:"last_error_message,omitempty"`
}

// ProbeResult is what a health-check capability reports.
type ProbeResult struct {
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latencyMs"`
}

// SystemMetric is one record sent through log_system_metric.
type SystemMetric struct {
	Kind       string         `json:"kind"`
	OK         bool           `json:"ok"`
	LatencyMs  *float64       `json:"latency_ms"`
	Path       string         `json:"path"`
	StatusCode *int           `json:"status_code"`
	Message    *string        `json:"message"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Problem levels. LevelOK marks the "nothing found" entry.
const (
	LevelOK    = "ok"
	LevelAmber = "amber"
	LevelRed   = "red"
)

// Problem is one human-readable finding about a degraded action group.
type Problem struct {
	Level   string `json:"level"`
	Action  Action `json:"action,omitempty"`
	Message string `json:"message"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
