package compute

import (
	"time"

	"github.com/opspulse/opspulse/pkg/types"
)

// Latency and rate thresholds used by Evaluate.
const (
	SlowMs            = 1200.0
	GraveMs           = 2000.0
	SlowRateThreshold = 0.15
)

// Recency windows, measured per group against its LastSeen.
const (
	UsageWindow   = 10 * time.Minute
	ProblemWindow = 30 * time.Minute
	ErrorWindow   = 60 * time.Minute
)

// within reports whether g was last seen no earlier than now-window.
// A group that has never been seen is outside every window.
func within(g types.ActionGroup, now time.Time, window time.Duration) bool {
	if g.LastSeen == nil {
		return false
	}
	return !g.LastSeen.Before(now.Add(-window))
}

// Evaluate derives the health status from the current groups.
//
// It is a pure function of groups and now: there is no hysteresis, a single
// evaluation below every threshold returns green.
func Evaluate(groups []types.ActionGroup, now time.Time) types.HealthStatus {
	var (
		actions      int64
		errorsRecent int64
		grave        bool
		slowCalls    int64
	)
	slowGroups := make([]types.ActionGroup, 0)

	for _, g := range groups {
		if within(g, now, UsageWindow) {
			actions += g.Calls
		}
		if within(g, now, ErrorWindow) {
			errorsRecent += g.Errors
		}
		if within(g, now, ProblemWindow) {
			if g.MaxP95 > SlowMs {
				slowGroups = append(slowGroups, g)
				slowCalls += g.SlowCount
			}
			if g.MaxP95 > GraveMs || g.Errors >= 2 {
				grave = true
			}
		}
	}

	var slowRate float64
	if actions > 0 {
		slowRate = clamp01(float64(slowCalls) / float64(actions))
	}

	state := types.StateGreen
	switch {
	case grave || errorsRecent >= 2 || len(slowGroups) >= 2 || slowRate > SlowRateThreshold:
		state = types.StateRed
	case errorsRecent >= 1 || len(slowGroups) >= 1 || slowRate > 0:
		state = types.StateAmber
	}

	return types.HealthStatus{
		State:      state,
		Actions:    actions,
		Errors:     errorsRecent,
		SlowGroups: slowGroups,
		SlowRate:   slowRate,
	}
}

// Speed labels shown next to the health state.
var speedLabels = map[types.State]struct{ label, description string }{
	types.StateRed:   {"Lenta", "El sistema está respondiendo con demoras importantes."},
	types.StateAmber: {"Normal", "El sistema responde, con algunas demoras puntuales."},
	types.StateGreen: {"Rápida", "El sistema está respondiendo con normalidad."},
}

// SpeedLabel returns the label and its fixed description for a health state.
func SpeedLabel(s types.State) (label, description string) {
	l, ok := speedLabels[s]
	if !ok {
		l = speedLabels[types.StateGreen]
	}
	return l.label, l.description
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
