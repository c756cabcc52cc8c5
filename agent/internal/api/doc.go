// Package api implements the HTTP surface of opspulse-agent.
//
// New(engine, opts) returns an http.Handler that serves:
//
//	GET  /api/v1/snapshot                     the current poller.View
//	GET  /api/v1/health                       state, speed, connectivity and diagnostic hints
//	POST /api/v1/refetch[?silent=true]        run a metrics refetch and return the view
//	POST /api/v1/refresh-status               manual connectivity + summary refresh
//	POST /api/v1/maintenance/clear-metrics    purge old rows remotely, then refetch
//	GET  /metrics                             Prometheus exposition (when a gatherer is set)
//	GET  /ws/stream                           live view stream (when a stream handler is set)
//
// Commands run synchronously. A command that was dropped because an equivalent
// one is already in flight answers 202 with "ran": false. A command sent while
// the engine is deactivated answers 503.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
