package poller

import (
	"time"

	"github.com/opspulse/opspulse/agent/internal/cache"
	"github.com/opspulse/opspulse/agent/internal/compute"
	"github.com/opspulse/opspulse/pkg/types"
)

// FallbackError is shown when a remote failure carries no message.
const FallbackError = "No se pudieron cargar las métricas."

// Totals is the derived health plus the problem list.
type Totals struct {
	types.HealthStatus
	Problems []types.Problem `json:"problems"`
}

// View is the read-only snapshot served to consumers.
type View struct {
	Loading            bool                     `json:"loading"`
	Error              *string                  `json:"error"`
	Totals             Totals                   `json:"totals"`
	OrdersToday        *int                     `json:"ordersToday"`
	SpeedLabel         string                   `json:"speedLabel"`
	SpeedDescription   string                   `json:"speedDescription"`
	LatencyMs          *float64                 `json:"latencyMs"`
	LastError          *string                  `json:"lastError"`
	ConnectivityStatus types.ConnectivityStatus `json:"connectivityStatus"`
	Summary            *types.StatusSummary     `json:"summary"`
	IsRefreshing       bool                     `json:"isRefreshing"`
	LastRefreshedAt    *time.Time               `json:"lastRefreshedAt"`
	LastPingAt         *time.Time               `json:"lastPingAt"`
	Groups             []types.ActionGroup      `json:"groups"`
	ScreenViews        map[string]int64         `json:"screenViews"`
}

// engineState is the part of the view owned by the engine rather than the cache.
type engineState struct {
	loading    bool
	err        *string
	refreshing bool
}

// buildView derives a View from a cache entry at now. It is pure.
func buildView(e cache.Entry, st engineState, now time.Time) View {
	t := compute.Derive(e.RawRows, now)
	label, desc := compute.SpeedLabel(t.State)

	v := View{
		Loading:            st.loading,
		Error:              st.err,
		Totals:             Totals{HealthStatus: t.HealthStatus, Problems: t.Problems},
		OrdersToday:        e.OrdersToday,
		SpeedLabel:         label,
		SpeedDescription:   desc,
		ConnectivityStatus: types.UnknownConnectivity(),
		Summary:            e.StatusSummary,
		IsRefreshing:       st.refreshing,
		Groups:             t.Groups,
		ScreenViews:        t.ScreenViews,
	}
	if e.Connectivity != nil {
		v.ConnectivityStatus = *e.Connectivity
	}
	if e.Has(cache.SlotLastRefreshedAt) {
		at := e.LastRefreshedAt
		v.LastRefreshedAt = &at
	}

	v.LatencyMs = v.ConnectivityStatus.LatencyMs
	if s := e.StatusSummary; s != nil {
		if v.LatencyMs == nil {
			v.LatencyMs = s.LastPingLatencyMs
		}
		if v.LatencyMs == nil {
			v.LatencyMs = s.AvgLatencyMs
		}
		v.LastError = s.LastErrorMessage
		v.LastPingAt = s.LastPingAt
	}
	if v.LastPingAt == nil && v.ConnectivityStatus.State != types.StateUnknown {
		at := v.ConnectivityStatus.CheckedAt
		v.LastPingAt = &at
	}
	return v
}
