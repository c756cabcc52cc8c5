// Package compute derives system health from raw metric rows.
//
// classify.go maps a row to a business action (create, update, load, confirm,
// other). Explicit action_type tags win over name heuristics.
//
// aggregate.go folds op rows into per-action groups (calls, errors, max p95,
// slow-call count, last seen). Screen rows only feed ScreenViews.
//
// health.go classifies the groups into green/amber/red using fixed latency
// thresholds (1200ms slow, 2000ms grave, 15% slow rate) and per-group recency
// windows (10m usage, 30m problems, 60m errors).
//
// problems.go turns degraded groups into at most three findings.
//
// Everything here is pure: callers pass now explicitly so tests are
// deterministic.
package compute
