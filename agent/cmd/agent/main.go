package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/opspulse/opspulse/agent/internal/api"
	"github.com/opspulse/opspulse/agent/internal/auth"
	"github.com/opspulse/opspulse/agent/internal/cache"
	"github.com/opspulse/opspulse/agent/internal/config"
	"github.com/opspulse/opspulse/agent/internal/orders"
	"github.com/opspulse/opspulse/agent/internal/poller"
	"github.com/opspulse/opspulse/agent/internal/probe"
	"github.com/opspulse/opspulse/agent/internal/remote"
	"github.com/opspulse/opspulse/agent/internal/security"
	"github.com/opspulse/opspulse/agent/internal/session"
	"github.com/opspulse/opspulse/agent/internal/telemetry"
	"github.com/opspulse/opspulse/agent/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("opspulse-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(config.ParseLevel(cfg.Logging.Level))
	slog.Info("config loaded",
		"endpoint", cfg.Remote.Endpoint,
		"transport", cfg.Remote.Transport,
		"poll_interval", cfg.Agent.PollInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Hot-reload applies the log level; everything else needs a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(config.ParseLevel(updated.Logging.Level))
			slog.Info("config hot-reloaded", "level", updated.Logging.Level)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.New(reg)

	client, closeClient, err := newRemote(cfg.Remote)
	if err != nil {
		slog.Error("failed to build remote client", "err", err)
		os.Exit(1)
	}
	defer closeClient()
	reliable := remote.NewReliable(client, cfg.Remote, remote.WithObserver(metrics))

	sessionID := cfg.Session.ID
	if sessionID == "" {
		sessionID = session.NewID()
	}
	flags, closeFlags := newFlags(cfg.Session, sessionID)
	defer closeFlags()

	counter, closeCounter := newCounter(ctx, cfg.Database, reliable)
	defer closeCounter()

	prober := probe.New(reliable, cfg.Remote.HealthPath,
		probe.WithDeadline(cfg.Agent.ProbeDeadline),
		probe.WithSession(sessionID),
	)

	// Without always_visible, polling runs only while a stream client is connected.
	var (
		toggle *session.Toggle
		vis    session.Visibility
	)
	if cfg.Agent.AlwaysVisible {
		vis = session.Static(true)
	} else {
		toggle = session.NewToggle(false)
		vis = toggle
	}

	c := cache.Default()
	engine := poller.New(cfg.Agent, poller.Deps{
		Remote:     reliable,
		Orders:     counter,
		Prober:     prober,
		Cache:      c,
		Visibility: vis,
		Flags:      flags,
		Metrics:    metrics,
	})
	engine.Activate(ctx)

	hub := ws.New(engine, toggle, func(n int) { metrics.StreamClients.Set(float64(n)) })
	go hub.Run(ctx)

	certs := security.NewMonitor(cfg.Remote, 6*time.Hour)
	go certs.Run(ctx)

	handler := api.New(engine, api.Options{
		Gatherer: reg,
		Stream:   hub,
		Breaker:  reliable.BreakerState,
		DataAge: func() (time.Duration, bool) {
			return c.Age(cache.SlotRawRows, time.Now())
		},
		Cert:       certs.Latest,
		StaleAfter: 2 * cfg.Agent.PollInterval,
	})
	handler = auth.RequireAPIKey(cfg.Server.APIKeyHeader, cfg.Server.APIKey())(handler)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort, "session", sessionID)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("opspulse-agent shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	engine.Deactivate()
	prober.Wait()
}

// newRemote builds the transport named by cfg.Transport.
func newRemote(cfg config.RemoteConfig) (remote.Client, func(), error) {
	switch cfg.Transport {
	case "grpc":
		c, err := remote.NewGRPC(cfg)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil //nolint:errcheck
	default:
		c, err := remote.NewHTTP(cfg)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}
}

// newFlags returns Redis-backed session flags when redis_addr is set so that a
// restarted agent with a fixed session.id does not probe again.
func newFlags(cfg config.SessionConfig, id string) (session.Flags, func()) {
	if cfg.RedisAddr == "" {
		return session.NewMemory(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword(),
		DB:       cfg.RedisDB,
	})
	slog.Info("session flags in redis", "addr", cfg.RedisAddr, "session", id)
	return session.NewRedisFlags(rdb, id, cfg.FlagTTL), func() { rdb.Close() } //nolint:errcheck
}

// newCounter counts today's orders straight from PostgreSQL when a database
// URL is configured, and through the remote RPC otherwise.
func newCounter(ctx context.Context, cfg config.DatabaseConfig, client remote.Client) (orders.Counter, func()) {
	if cfg.URL() == "" {
		return orders.RemoteCounter{Client: client}, func() {}
	}
	pg, err := orders.NewPGCounter(ctx, cfg)
	if err != nil {
		slog.Warn("postgres unavailable, counting orders via remote", "err", err)
		return orders.RemoteCounter{Client: client}, func() {}
	}
	slog.Info("counting orders from postgres", "table", cfg.OrdersTable)
	return pg, pg.Close
}
