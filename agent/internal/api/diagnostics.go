package api

import (
	"fmt"
	"slices"
	"time"

	"github.com/opspulse/opspulse/agent/internal/poller"
	"github.com/opspulse/opspulse/agent/internal/security"
	"github.com/opspulse/opspulse/pkg/types"
)

// DiagnosticHint is one human-readable insight about the agent's view of the
// remote system. Dashboards render these as chips; Detail is shown on click.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number tied to the hint (latency, age, rate).
	Value *float64 `json:"value,omitempty"`
}

// diagInput is everything computeDiagnostics looks at besides the view.
type diagInput struct {
	breaker    string
	age        time.Duration
	hasData    bool
	staleAfter time.Duration
	cert       *security.CertStatus
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a view, ordered critical first, then
// warnings, then info.
func computeDiagnostics(v poller.View, in diagInput) []DiagnosticHint {
	var hints []DiagnosticHint

	// ── Fetch failure ────────────────────────────────────────────────────────
	if v.Error != nil {
		detail := fmt.Sprintf(
			"The last attempt to load metrics failed with: %q. "+
				"The numbers on screen are from the last successful fetch and are kept "+
				"until a new one succeeds.",
			*v.Error,
		)
		hints = append(hints, DiagnosticHint{
			Key:    "fetch_failed",
			Level:  "critical",
			Title:  "Metrics fetch failed",
			Detail: detail,
		})
	}

	// ── Circuit breaker ──────────────────────────────────────────────────────
	switch in.breaker {
	case "open":
		hints = append(hints, DiagnosticHint{
			Key:   "breaker_open",
			Level: "critical",
			Title: "Remote calls paused",
			Detail: "Too many consecutive remote calls failed, so the agent stopped calling " +
				"the backend for a while. It will try a single call once the cool-down ends " +
				"and resume normally if that call succeeds.",
		})
	case "half-open":
		hints = append(hints, DiagnosticHint{
			Key:    "breaker_half_open",
			Level:  "warning",
			Title:  "Remote calls recovering",
			Detail: "The cool-down after repeated failures has ended and the agent is testing the backend with a single call.",
		})
	}

	// ── Connectivity ─────────────────────────────────────────────────────────
	conn := v.ConnectivityStatus
	switch conn.State {
	case types.StateRed:
		msg := "no details"
		if conn.Message != nil {
			msg = *conn.Message
		}
		hints = append(hints, DiagnosticHint{
			Key:   "connectivity_red",
			Level: "critical",
			Title: "Backend unreachable",
			Detail: fmt.Sprintf(
				"The last connectivity check failed (%s). "+
					"Check that the backend is running and that the agent's credentials are valid.",
				msg,
			),
			Value: conn.LatencyMs,
		})
	case types.StateAmber:
		hints = append(hints, DiagnosticHint{
			Key:   "connectivity_slow",
			Level: "warning",
			Title: "Slow connection",
			Detail: "The backend answered the connectivity check, but slowly. " +
				"Pages that depend on it will feel sluggish until latency drops below half a second.",
			Value: conn.LatencyMs,
		})
	case types.StateUnknown:
		hints = append(hints, DiagnosticHint{
			Key:    "connectivity_unknown",
			Level:  "info",
			Title:  "Not checked yet",
			Detail: "No connectivity check has completed in this session. Trigger one with POST /api/v1/refresh-status.",
		})
	}

	// ── TLS certificate ──────────────────────────────────────────────────────
	if c := in.cert; c != nil {
		days := float64(c.DaysLeft)
		switch c.Status {
		case security.StatusExpired:
			hints = append(hints, DiagnosticHint{
				Key:   "cert_expired",
				Level: "critical",
				Title: "Certificate expired",
				Detail: fmt.Sprintf(
					"The certificate served by %s expired on %s. "+
						"Clients that verify TLS will refuse to connect until it is renewed.",
					c.Endpoint, c.NotAfter,
				),
				Value: &days,
			})
		case security.StatusExpiring:
			hints = append(hints, DiagnosticHint{
				Key:   "cert_expiring",
				Level: "warning",
				Title: fmt.Sprintf("Cert expires in %dd", c.DaysLeft),
				Detail: fmt.Sprintf(
					"The certificate served by %s (issuer %q) expires on %s. Renew it before then.",
					c.Endpoint, c.Issuer, c.NotAfter,
				),
				Value: &days,
			})
		}
	}

	// ── Health ───────────────────────────────────────────────────────────────
	switch v.Totals.State {
	case types.StateRed:
		rate := v.Totals.SlowRate * 100
		hints = append(hints, DiagnosticHint{
			Key:   "health_red",
			Level: "critical",
			Title: "System is slow",
			Detail: fmt.Sprintf(
				"%d errors across %d actions, with %.0f%% of action groups running slow. "+
					"See the problem list for the affected actions.",
				v.Totals.Errors, v.Totals.Actions, rate,
			),
			Value: &rate,
		})
	case types.StateAmber:
		rate := v.Totals.SlowRate * 100
		hints = append(hints, DiagnosticHint{
			Key:   "health_amber",
			Level: "warning",
			Title: "Some actions degraded",
			Detail: fmt.Sprintf(
				"%d errors across %d actions. Nothing is critical yet, but some action groups are slower than usual.",
				v.Totals.Errors, v.Totals.Actions,
			),
			Value: &rate,
		})
	}

	// ── Freshness ────────────────────────────────────────────────────────────
	if in.hasData && in.staleAfter > 0 && in.age > in.staleAfter {
		secs := in.age.Seconds()
		hints = append(hints, DiagnosticHint{
			Key:   "stale_data",
			Level: "warning",
			Title: "Data is stale",
			Detail: fmt.Sprintf(
				"Metrics were last refreshed %s ago. Polling only runs while a dashboard is open; "+
					"open the stream or call POST /api/v1/refetch to refresh now.",
				in.age.Round(time.Second),
			),
			Value: &secs,
		})
	}
	if !in.hasData && !v.Loading {
		hints = append(hints, DiagnosticHint{
			Key:    "no_data",
			Level:  "info",
			Title:  "No metrics yet",
			Detail: "The agent has not loaded any metrics rows in this process.",
		})
	}

	// ── Remote-side error log ────────────────────────────────────────────────
	if v.LastError != nil {
		hints = append(hints, DiagnosticHint{
			Key:    "remote_last_error",
			Level:  "info",
			Title:  "Backend reported an error",
			Detail: fmt.Sprintf("The backend's most recent recorded error was: %q.", *v.LastError),
		})
	}

	// ── All clear ────────────────────────────────────────────────────────────
	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: "Metrics are fresh and the backend answered its last connectivity check in time.",
		})
	}

	slices.SortStableFunc(hints, func(a, b DiagnosticHint) int {
		return levelRank[a.Level] - levelRank[b.Level]
	})
	return hints
}
