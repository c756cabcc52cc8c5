package remote

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/opspulse/opspulse/agent/internal/config"
	"github.com/opspulse/opspulse/pkg/types"
)

// telemetryService is the handler type registered for ServiceName.
type telemetryService interface {
	handle(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

// mockTelemetry answers each method with a canned "result" value.
type mockTelemetry struct {
	mu       sync.Mutex
	results  map[string]any
	errs     map[string]error
	lastArgs map[string]map[string]any
	lastMD   metadata.MD
}

func (m *mockTelemetry) handle(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastArgs == nil {
		m.lastArgs = make(map[string]map[string]any)
	}
	m.lastArgs[method] = in.AsMap()
	m.lastMD, _ = metadata.FromIncomingContext(ctx)
	if err := m.errs[method]; err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"result": m.results[method]})
}

func (m *mockTelemetry) args(method string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastArgs[method]
}

func telemetryDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*telemetryService)(nil),
	}
	for _, name := range methods {
		name := name
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				return srv.(telemetryService).handle(ctx, name, in)
			},
		})
	}
	return desc
}

// startTelemetryServer runs an in-process gRPC server and returns its address.
func startTelemetryServer(t *testing.T, mock *mockTelemetry, serving healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	gs := grpc.NewServer()
	gs.RegisterService(telemetryDesc(), mock)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, serving)
	healthpb.RegisterHealthServer(gs, hs)

	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func newGRPCClient(t *testing.T, addr string, auth config.AuthConfig) *GRPCClient {
	t.Helper()
	c, err := NewGRPC(config.RemoteConfig{Endpoint: addr, Auth: auth})
	if err != nil {
		t.Fatalf("NewGRPC: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCClient_GetMetricsSummary(t *testing.T) {
	mock := &mockTelemetry{results: map[string]any{
		"GetMetricsSummary": []any{
			map[string]any{"kind": "op", "op": "confirmOrder", "calls": 7, "errors": 1, "p95_ms": 300, "last_ts": "2026-03-01T11:58:00Z"},
		},
	}}
	c := newGRPCClient(t, startTelemetryServer(t, mock, healthpb.HealthCheckResponse_SERVING), config.AuthConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := c.GetMetricsSummary(ctx, 3600, 500)
	if err != nil {
		t.Fatalf("GetMetricsSummary: %v", err)
	}
	if len(rows) != 1 || rows[0].Op != "confirmOrder" || rows[0].Calls != 7 || rows[0].LastTS == nil {
		t.Errorf("rows = %+v", rows)
	}
	if got := mock.args("GetMetricsSummary")["window_seconds"]; got != float64(3600) {
		t.Errorf("window_seconds = %v, want 3600", got)
	}
}

func TestGRPCClient_CountAndSummary(t *testing.T) {
	mock := &mockTelemetry{results: map[string]any{
		"CountOrdersSince":       float64(42),
		"GetSystemStatusSummary": []any{map[string]any{"avg_latency_ms": 210.0, "last_error_message": "slow db"}},
	}}
	c := newGRPCClient(t, startTelemetryServer(t, mock, healthpb.HealthCheckResponse_SERVING), config.AuthConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := c.CountOrdersSince(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || n != 42 {
		t.Fatalf("CountOrdersSince = %d, %v; want 42", n, err)
	}
	if got := mock.args("CountOrdersSince")["since"]; got != "2026-03-01T00:00:00Z" {
		t.Errorf("since = %v", got)
	}

	s, err := c.GetSystemStatusSummary(ctx, 60)
	if err != nil {
		t.Fatalf("GetSystemStatusSummary: %v", err)
	}
	if s.AvgLatencyMs == nil || *s.AvgLatencyMs != 210 {
		t.Errorf("AvgLatencyMs = %v, want 210", s.AvgLatencyMs)
	}
	if s.LastErrorMessage == nil || *s.LastErrorMessage != "slow db" {
		t.Errorf("LastErrorMessage = %v", s.LastErrorMessage)
	}
}

func TestGRPCClient_StatusMappedToError(t *testing.T) {
	mock := &mockTelemetry{errs: map[string]error{
		"ClearMetrics":    status.Error(codes.PermissionDenied, "not allowed"),
		"LogSystemMetric": status.Error(codes.Unavailable, "try later"),
	}}
	c := newGRPCClient(t, startTelemetryServer(t, mock, healthpb.HealthCheckResponse_SERVING), config.AuthConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.ClearMetrics(ctx, 7)
	var re *Error
	if !errors.As(err, &re) || re.Status != 403 || re.Message != "not allowed" {
		t.Fatalf("err = %v, want *Error 403", err)
	}
	if !permanent(err) {
		t.Error("PermissionDenied should be permanent")
	}

	err = c.LogSystemMetric(ctx, types.SystemMetric{Kind: "health_ping", OK: true})
	if permanent(err) {
		t.Errorf("Unavailable should be retryable, got %v", err)
	}
}

func TestGRPCClient_AuthMetadata(t *testing.T) {
	t.Setenv("OPSPULSE_GRPC_KEY", "secret")
	mock := &mockTelemetry{results: map[string]any{"ClearMetrics": nil}}
	c := newGRPCClient(t, startTelemetryServer(t, mock, healthpb.HealthCheckResponse_SERVING),
		config.AuthConfig{Mode: "apikey", Header: "X-Api-Key", KeyEnv: "OPSPULSE_GRPC_KEY"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.ClearMetrics(ctx, 30); err != nil {
		t.Fatalf("ClearMetrics: %v", err)
	}
	mock.mu.Lock()
	got := mock.lastMD.Get(strings.ToLower("X-Api-Key"))
	mock.mu.Unlock()
	if len(got) != 1 || got[0] != "secret" {
		t.Errorf("x-api-key = %v, want [secret]", got)
	}
}

func TestGRPCClient_HealthCheck(t *testing.T) {
	cases := []struct {
		name    string
		serving healthpb.HealthCheckResponse_ServingStatus
		want    bool
	}{
		{"serving", healthpb.HealthCheckResponse_SERVING, true},
		{"not serving", healthpb.HealthCheckResponse_NOT_SERVING, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newGRPCClient(t, startTelemetryServer(t, &mockTelemetry{}, tc.serving), config.AuthConfig{})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res, err := c.HealthCheck(ctx)
			if err != nil {
				t.Fatalf("HealthCheck: %v", err)
			}
			if res.Healthy != tc.want {
				t.Errorf("Healthy = %v, want %v", res.Healthy, tc.want)
			}
			if res.LatencyMs < 0 {
				t.Errorf("LatencyMs = %v, want >= 0", res.LatencyMs)
			}
		})
	}
}
