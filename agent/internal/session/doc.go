// Package session provides the per-session capabilities the polling engine
// depends on: whether the dashboard is visible, and session-scoped flags such
// as "connectivity already checked".
package session
