package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opspulse/opspulse/agent/internal/config"
	"github.com/opspulse/opspulse/pkg/types"
)

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// HTTPClient calls the remote service over JSON/HTTP.
type HTTPClient struct {
	cfg    config.RemoteConfig
	base   string
	client *http.Client
	now    func() time.Time // injectable for deterministic latency in tests
}

// NewHTTP builds an HTTPClient for cfg. The http.Client is built once and
// reused. Per-call deadlines come from the caller's context.
func NewHTTP(cfg config.RemoteConfig) (*HTTPClient, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("remote: build http client: %w", err)
	}
	return &HTTPClient{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.Endpoint, "/"),
		client: client,
		now:    time.Now,
	}, nil
}

// GetMetricsSummary calls get_metrics_summary(window_seconds, limit).
func (c *HTTPClient) GetMetricsSummary(ctx context.Context, windowSeconds, limit int) ([]types.RawMetricRow, error) {
	var rows []types.RawMetricRow
	err := c.rpc(ctx, FnMetricsSummary, map[string]any{
		"window_seconds": windowSeconds,
		"limit":          limit,
	}, &rows)
	return rows, err
}

// GetSystemStatusSummary calls get_system_status_summary(window_minutes).
// The service may answer with a single object or a one-row set.
func (c *HTTPClient) GetSystemStatusSummary(ctx context.Context, windowMinutes int) (types.StatusSummary, error) {
	var raw json.RawMessage
	if err := c.rpc(ctx, FnStatusSummary, map[string]any{"window_minutes": windowMinutes}, &raw); err != nil {
		return types.StatusSummary{}, err
	}
	return decodeSummary(raw)
}

// LogSystemMetric calls log_system_metric with m's fields as arguments.
func (c *HTTPClient) LogSystemMetric(ctx context.Context, m types.SystemMetric) error {
	return c.rpc(ctx, FnLogMetric, m, nil)
}

// CountOrdersSince calls count_orders_since(since).
func (c *HTTPClient) CountOrdersSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := c.rpc(ctx, FnCountOrders, map[string]any{"since": since.Format(time.RFC3339)}, &n)
	return n, err
}

// ClearMetrics calls clear_metrics(older_than_days).
func (c *HTTPClient) ClearMetrics(ctx context.Context, olderThanDays int) error {
	return c.rpc(ctx, FnClearMetrics, map[string]any{"older_than_days": olderThanDays}, nil)
}

// HealthCheck issues GET <endpoint><health_path> and times it.
// Any non-2xx answer is reported as unhealthy rather than as an error; only
// transport failures return an error. A JSON body with "healthy": false also
// marks the service unhealthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) (types.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+c.cfg.HealthPath, nil)
	if err != nil {
		return types.ProbeResult{}, fmt.Errorf("build request: %w", err)
	}

	start := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return types.ProbeResult{}, fmt.Errorf("remote %s: %w", FnHealth, err)
	}
	defer resp.Body.Close()
	latency := float64(c.now().Sub(start).Microseconds()) / 1000

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	if healthy {
		var body struct {
			Healthy *bool `json:"healthy"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil && body.Healthy != nil {
			healthy = *body.Healthy
		}
	}
	return types.ProbeResult{Healthy: healthy, LatencyMs: latency}, nil
}

// rpc posts args as JSON to /rpc/<fn> and decodes the answer into out
// (skipped when out is nil).
func (c *HTTPClient) rpc(ctx context.Context, fn string, args, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("remote %s: encode args: %w", fn, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rpc/"+fn, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote %s: build request: %w", fn, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote %s: %w", fn, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Fn: fn, Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote %s: decode response: %w", fn, err)
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body.
// PostgREST-style bodies carry it in "message"; others in "error".
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}

// decodeSummary accepts either {..} or [{..}] (or [] for no data).
func decodeSummary(raw json.RawMessage) (types.StatusSummary, error) {
	var s types.StatusSummary
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return s, nil
	}
	if trimmed[0] == '[' {
		var rows []types.StatusSummary
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return s, fmt.Errorf("remote %s: decode response: %w", FnStatusSummary, err)
		}
		if len(rows) > 0 {
			s = rows[0]
		}
		return s, nil
	}
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return s, fmt.Errorf("remote %s: decode response: %w", FnStatusSummary, err)
	}
	return s, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the remote auth and TLS settings.
func buildHTTPClient(cfg config.RemoteConfig) (*http.Client, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: cfg.Auth,
		},
	}, nil
}

// buildTLSConfig loads the client certificate and CA for mtls mode.
func buildTLSConfig(cfg config.RemoteConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if cfg.Auth.Mode != "mtls" {
		return tlsCfg, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.Auth.CertFile, cfg.Auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg.Certificates = []tls.Certificate{cert}

	if cfg.Auth.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.Auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file %q", cfg.Auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}
