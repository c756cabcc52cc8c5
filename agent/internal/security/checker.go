package security

import (
	"context"
	"crypto/tls"
	"log/slog"
	"math"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/opspulse/opspulse/agent/internal/config"
)

// Certificate states.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// ExpiringWithin is how close to NotAfter a certificate counts as expiring.
const ExpiringWithin = 30 * 24 * time.Hour

// CertStatus describes the leaf certificate served by the remote endpoint.
type CertStatus struct {
	Endpoint  string    `json:"endpoint"`
	AuthType  string    `json:"auth_type"`
	Status    string    `json:"status"`
	DaysLeft  int       `json:"days_left"`
	Issuer    string    `json:"issuer,omitempty"`
	NotAfter  string    `json:"not_after,omitempty"` // RFC3339
	CheckedAt time.Time `json:"checked_at"`
}

// Check dials the remote endpoint and returns a CertStatus describing the
// leaf certificate as of now.
//
// Returns nil for non-HTTPS endpoints since there is no certificate to inspect.
// Uses a 10-second dial timeout so a slow/unreachable host does not stall
// the monitor.
func Check(ctx context.Context, cfg config.RemoteConfig, now time.Time) *CertStatus {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{
		Endpoint:  cfg.Endpoint,
		AuthType:  cfg.Auth.Mode,
		CheckedAt: now,
	}
	if cs.AuthType == "" {
		cs.AuthType = "none"
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		// No explicit port in the URL — append the HTTPS default.
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		slog.Debug("security: tls dial failed", "endpoint", cfg.Endpoint, "err", err)
		cs.Status = StatusUnreachable
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	left := leaf.NotAfter.Sub(now)

	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = StatusExpired
	case left <= ExpiringWithin:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}

	return cs
}

// Monitor re-checks the remote certificate on an interval and keeps the
// latest result.
type Monitor struct {
	cfg      config.RemoteConfig
	interval time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	latest *CertStatus
}

// NewMonitor returns a Monitor for cfg.Endpoint.
func NewMonitor(cfg config.RemoteConfig, interval time.Duration) *Monitor {
	return &Monitor{cfg: cfg, interval: interval, now: time.Now}
}

// Latest returns the most recent status, or nil before the first check and
// for plain-HTTP endpoints.
func (m *Monitor) Latest() *CertStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Run checks immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	cs := Check(ctx, m.cfg, m.now())
	if cs == nil {
		return
	}
	if cs.Status != StatusValid {
		slog.Warn("security: remote certificate needs attention",
			"endpoint", cs.Endpoint, "status", cs.Status, "days_left", cs.DaysLeft)
	}
	m.mu.Lock()
	m.latest = cs
	m.mu.Unlock()
}
