// Package remote is the client side of the remote aggregation service.
//
// Client is the set of remote operations the engine consumes:
// get_metrics_summary, get_system_status_summary, log_system_metric,
// clear_metrics, today's order count, and a bounded health check.
//
// Two transports implement it:
//   - HTTPClient posts JSON to <endpoint>/rpc/<fn> (PostgREST style) and
//     probes <endpoint><health_path>. Auth (mTLS, API key, bearer, basic) is
//     injected by a shared round tripper.
//   - GRPCClient invokes /opspulse.v1.Telemetry/<Method> with
//     google.protobuf.Struct messages and probes the standard
//     grpc.health.v1 service.
//
// Reliable wraps either transport with a circuit breaker and retries for
// idempotent reads. Remote failures are returned as *Error carrying the
// service-provided message.
package remote
