package compute

import (
	"log/slog"

	"github.com/opspulse/opspulse/pkg/types"
)

// Aggregate folds the op rows into one ActionGroup per action seen.
//
// It is a full recompute: no state is carried between calls. Groups are
// returned in types.Actions order. Screen rows are skipped; they are counted
// by ScreenViews instead.
func Aggregate(rows []types.RawMetricRow, slowMs float64) []types.ActionGroup {
	acc := make(map[types.Action]*types.ActionGroup, len(types.Actions))

	for _, row := range rows {
		switch row.Kind {
		case types.KindOp:
		case types.KindScreen:
			continue
		default:
			slog.Warn("compute: skipping row with unknown kind", "kind", row.Kind, "op", row.Op)
			continue
		}

		action := Classify(row.Op, row.ActionType, row.Path)
		g, ok := acc[action]
		if !ok {
			g = &types.ActionGroup{Action: action}
			acc[action] = g
		}

		g.Calls += row.Calls
		g.Errors += row.Errors
		if row.P95Ms > g.MaxP95 {
			g.MaxP95 = row.P95Ms
		}
		if row.P95Ms > slowMs {
			// A slow row with no recorded calls still counts once.
			g.SlowCount += max(row.Calls, 1)
		}
		if row.LastTS != nil && (g.LastSeen == nil || row.LastTS.After(*g.LastSeen)) {
			ts := *row.LastTS
			g.LastSeen = &ts
		}
	}

	out := make([]types.ActionGroup, 0, len(acc))
	for _, a := range types.Actions {
		if g, ok := acc[a]; ok {
			out = append(out, *g)
		}
	}
	return out
}

// ScreenViews sums calls of screen rows per path (falling back to op when the
// path is empty).
func ScreenViews(rows []types.RawMetricRow) map[string]int64 {
	views := make(map[string]int64)
	for _, row := range rows {
		if row.Kind != types.KindScreen {
			continue
		}
		key := row.Path
		if key == "" {
			key = row.Op
		}
		views[key] += row.Calls
	}
	return views
}
