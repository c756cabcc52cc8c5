// Package auth guards the agent's command endpoints with an API key.
//
// Only state-changing requests are checked; reads, /metrics and the
// WebSocket stream stay open so dashboards can connect without a secret.
package auth
