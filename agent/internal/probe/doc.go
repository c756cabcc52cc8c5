// Package probe checks connectivity to the remote service.
//
// A probe is one bounded HealthCheck call. Its result is classified into a
// ConnectivityStatus by latency (see Classify) and reported back to the remote
// service as a best-effort health_ping record. A probe whose context was
// cancelled from outside produces no status at all; every other failure,
// including its own deadline, is a red status carrying the failure message.
package probe
