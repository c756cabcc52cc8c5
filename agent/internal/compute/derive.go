package compute

import (
	"time"

	"github.com/opspulse/opspulse/pkg/types"
)

// Totals is everything derived from one set of raw rows at one instant.
type Totals struct {
	types.HealthStatus
	Problems    []types.Problem     `json:"problems"`
	Groups      []types.ActionGroup `json:"groups"`
	ScreenViews map[string]int64    `json:"screenViews"`
}

// Derive aggregates rows and evaluates health and problems against now.
// now is passed explicitly so callers (and tests) control the clock.
func Derive(rows []types.RawMetricRow, now time.Time) Totals {
	groups := Aggregate(rows, SlowMs)
	return Totals{
		HealthStatus: Evaluate(groups, now),
		Problems:     Problems(groups, now),
		Groups:       groups,
		ScreenViews:  ScreenViews(rows),
	}
}
