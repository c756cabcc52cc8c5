package api

import (
	"github.com/opspulse/opspulse/agent/internal/poller"
	"github.com/opspulse/opspulse/agent/internal/security"
	"github.com/opspulse/opspulse/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State            types.State              `json:"state"`
	SpeedLabel       string                   `json:"speed_label"`
	SpeedDescription string                   `json:"speed_description"`
	Actions          int64                    `json:"actions"`
	Errors           int64                    `json:"errors"`
	SlowRate         float64                  `json:"slow_rate"`
	Connectivity     types.ConnectivityStatus `json:"connectivity"`
	Breaker          string                   `json:"breaker,omitempty"`
	Cert             *security.CertStatus     `json:"cert"`
	DataAgeSeconds   *float64                 `json:"data_age_seconds"`
	Problems         []types.Problem          `json:"problems"`
	Diagnostics      []DiagnosticHint         `json:"diagnostics"`
}

// CommandResponse is the payload for the POST command endpoints.
type CommandResponse struct {
	Ran  bool        `json:"ran"`
	View poller.View `json:"view"`
}

type refreshRequest struct {
	Reason string `json:"reason"`
}

type clearRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
