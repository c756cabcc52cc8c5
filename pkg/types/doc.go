// Package types defines the shared data model of the health engine: raw metric
// rows as returned by the remote aggregation endpoint, the derived action
// groups and health status, connectivity status, and the status summary.
// These are the canonical in-memory representations, separate from any wire
// format used by agent/internal/remote.
package types
