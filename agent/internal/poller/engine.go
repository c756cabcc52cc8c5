package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opspulse/opspulse/agent/internal/cache"
	"github.com/opspulse/opspulse/agent/internal/config"
	"github.com/opspulse/opspulse/agent/internal/opreg"
	"github.com/opspulse/opspulse/agent/internal/orders"
	"github.com/opspulse/opspulse/agent/internal/remote"
	"github.com/opspulse/opspulse/agent/internal/session"
	"github.com/opspulse/opspulse/agent/internal/telemetry"
	"github.com/opspulse/opspulse/pkg/types"
)

// Remote is the subset of remote.Client the engine fetches from.
type Remote interface {
	GetMetricsSummary(ctx context.Context, windowSeconds, limit int) ([]types.RawMetricRow, error)
	GetSystemStatusSummary(ctx context.Context, windowMinutes int) (types.StatusSummary, error)
	ClearMetrics(ctx context.Context, olderThanDays int) error
}

// Prober runs one connectivity probe. ok is false when ctx was cancelled.
type Prober interface {
	Probe(ctx context.Context) (status types.ConnectivityStatus, ok bool)
}

// Deps are the engine's collaborators. Cache, Visibility, Flags and Metrics
// are optional.
type Deps struct {
	Remote     Remote
	Orders     orders.Counter
	Prober     Prober
	Cache      *cache.Cache
	Visibility session.Visibility
	Flags      session.Flags
	Metrics    *telemetry.Metrics
}

// Engine keeps the cache fresh and serves Views over it.
//
// Lock order: e.mu is never held while calling into the registry, the cache,
// or the remote service.
type Engine struct {
	cfg     config.AgentConfig
	remote  Remote
	orders  orders.Counter
	prober  Prober
	cache   *cache.Cache
	reg     *opreg.Registry
	vis     session.Visibility
	flags   session.Flags
	metrics *telemetry.Metrics
	now     func() time.Time

	changed chan struct{} // coalesced change signal for the broadcaster
	wake    chan struct{} // hidden→visible transitions

	mu       sync.Mutex
	state    engineState
	fetching bool
	active   bool
	stop     context.CancelFunc
	unhook   []func()
	subs     map[int]func(View)
	nextSub  int

	wg sync.WaitGroup
}

// New returns an inactive Engine.
func New(cfg config.AgentConfig, d Deps) *Engine {
	e := &Engine{
		cfg:     cfg,
		remote:  d.Remote,
		orders:  d.Orders,
		prober:  d.Prober,
		cache:   d.Cache,
		reg:     opreg.New(context.Background()),
		vis:     d.Visibility,
		flags:   d.Flags,
		metrics: d.Metrics,
		now:     time.Now,
		changed: make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
		subs:    make(map[int]func(View)),
	}
	if e.cache == nil {
		e.cache = cache.Default()
	}
	if e.vis == nil {
		e.vis = session.Static(true)
	}
	if e.flags == nil {
		e.flags = session.NewMemory()
	}
	if e.metrics == nil {
		e.metrics = telemetry.New(nil)
	}
	e.reg.OnCancel(e.metrics.Cancelled)
	return e
}

// View returns the current snapshot. It never blocks on I/O.
func (e *Engine) View() View {
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	return buildView(e.cache.Read(), st, e.now())
}

// Subscribe calls fn with the current View right away and again after every
// change while the engine is active. fn must not block for long.
func (e *Engine) Subscribe(fn func(View)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	fn(e.View())
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Activate starts the session: a foreground fetch, the once-per-session
// connectivity probe, and background polling while visible. Calling it on an
// active engine does nothing.
func (e *Engine) Activate(ctx context.Context) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	loopCtx, stop := context.WithCancel(ctx)
	e.stop = stop
	e.mu.Unlock()

	unhookCache := e.cache.OnChange(func(cache.Slot) { e.notify() })
	unhookVis := e.vis.OnChange(func(visible bool) {
		if visible {
			select {
			case e.wake <- struct{}{}:
			default:
			}
		}
	})
	e.mu.Lock()
	e.unhook = []func(){unhookCache, unhookVis}
	e.mu.Unlock()

	slog.Info("poller: activated", "poll_interval", e.cfg.PollInterval, "visible", e.vis.Visible())

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.broadcast(loopCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.probeOnce(loopCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.run(loopCtx)
	}()
}

// Deactivate cancels every outstanding operation and waits for the engine's
// goroutines to exit. Results that arrive afterwards are discarded.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	stop, unhook := e.stop, e.unhook
	e.stop, e.unhook = nil, nil
	e.mu.Unlock()

	for _, fn := range unhook {
		fn()
	}
	e.reg.CancelAll()
	stop()
	e.wg.Wait()
	slog.Info("poller: deactivated")
}

// Refetch fetches metrics and today's order count. A silent refetch does not
// raise the loading flag. It returns false, without doing anything, when a
// fetch is already in flight or the engine is inactive.
func (e *Engine) Refetch(silent bool) bool {
	hasRows := e.cache.Read().Has(cache.SlotRawRows)

	e.mu.Lock()
	if !e.active || e.fetching {
		e.mu.Unlock()
		slog.Debug("poller: refetch dropped", "silent", silent)
		return false
	}
	e.fetching = true
	if !silent && !hasRows {
		e.state.loading = true
	}
	e.mu.Unlock()
	e.notify()

	defer func() {
		e.mu.Lock()
		e.fetching = false
		e.state.loading = false
		e.mu.Unlock()
		e.notify()
	}()

	mh := e.reg.Begin(opreg.KindMetrics, e.cfg.FetchTimeout)
	oh := e.reg.Begin(opreg.KindOrdersToday, e.cfg.FetchTimeout)
	if !e.isActive() {
		mh.Done()
		oh.Done()
		return false
	}

	var g errgroup.Group
	g.Go(func() error { return e.fetchRows(mh) })
	g.Go(func() error { return e.fetchOrders(oh) })
	err := g.Wait()

	switch {
	case err != nil:
		slog.Error("poller: fetch failed", "err", err, "silent", silent)
		msg := remote.Message(err, FallbackError)
		e.setError(&msg)
	case mh.Cause() == nil || errors.Is(mh.Cause(), context.Canceled):
		// Clear a previous error only when this fetch actually landed.
		e.setError(nil)
	}
	return true
}

// RefreshStatus probes connectivity and fetches the status summary together.
// It returns false when a refresh is already in flight or the engine is
// inactive. lastRefreshedAt is stamped whenever the refresh completes, even
// if both parts failed.
func (e *Engine) RefreshStatus(reason string) bool {
	e.mu.Lock()
	if !e.active || e.state.refreshing {
		e.mu.Unlock()
		slog.Debug("poller: status refresh dropped", "reason", reason)
		return false
	}
	e.state.refreshing = true
	e.mu.Unlock()
	e.notify()

	// The once-per-session connectivity check writes the same slot. This
	// refresh is newer, so a check still in flight must not land after it.
	e.reg.Cancel(opreg.KindHealthPing, opreg.ErrSuperseded)

	defer func() {
		e.mu.Lock()
		e.state.refreshing = false
		e.mu.Unlock()
		e.notify()
	}()

	slog.Info("poller: refreshing status", "reason", reason)
	h := e.reg.Begin(opreg.KindStatusSummary, e.cfg.FetchTimeout)
	defer h.Done()
	if !e.isActive() {
		return false
	}

	var g errgroup.Group
	g.Go(func() error {
		e.probe(h)
		return nil
	})
	g.Go(func() error { return e.fetchSummary(h) })
	if err := g.Wait(); err != nil {
		slog.Warn("poller: status summary failed", "err", err, "reason", reason)
	}

	if cause := h.Cause(); cause == nil || errors.Is(cause, opreg.ErrTimeout) {
		e.cache.SetLastRefreshedAt(e.now())
	}
	return true
}

// AfterMaintenance deletes metrics older than olderThanDays and then runs a
// foreground refetch.
func (e *Engine) AfterMaintenance(ctx context.Context, olderThanDays int) error {
	if err := e.remote.ClearMetrics(ctx, olderThanDays); err != nil {
		return fmt.Errorf("poller: clear metrics: %w", err)
	}
	slog.Info("poller: metrics cleared", "older_than_days", olderThanDays)
	e.Refetch(false)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	e.Refetch(false)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.vis.Visible() {
				continue
			}
			e.Refetch(true)
		case <-e.wake:
			slog.Debug("poller: visible again, refreshing")
			e.Refetch(true)
		}
	}
}

// probeOnce runs the automatic connectivity probe unless this session has
// already had one.
func (e *Engine) probeOnce(ctx context.Context) {
	first, err := e.flags.SetOnce(ctx, session.FlagConnectivityChecked)
	if err != nil {
		slog.Warn("poller: session flag unavailable, probing anyway", "err", err)
		first = true
	}
	if !first {
		slog.Debug("poller: connectivity already checked this session")
		return
	}

	h := e.reg.Begin(opreg.KindHealthPing, e.cfg.ProbeTimeout)
	defer h.Done()
	if !e.isActive() {
		return
	}
	e.probe(h)
}

func (e *Engine) probe(h *opreg.Handle) {
	st, ok := e.prober.Probe(h.Context())
	if !ok {
		e.metrics.Fetched(h.Kind(), telemetry.ResultDiscarded)
		return
	}
	if !e.reg.Commit(h, func() { e.cache.SetConnectivity(st) }) {
		e.metrics.Fetched(h.Kind(), telemetry.ResultDiscarded)
		return
	}
	e.metrics.SetConnectivity(st)
}

func (e *Engine) fetchRows(h *opreg.Handle) error {
	defer h.Done()
	rows, err := e.remote.GetMetricsSummary(h.Context(), int(e.cfg.MetricsWindow.Seconds()), e.cfg.MetricsLimit)
	if err != nil {
		return e.failed(h, err, "fetch metrics")
	}
	if !e.reg.Commit(h, func() { e.cache.SetRawRows(rows) }) {
		e.discarded(h)
		return nil
	}
	e.metrics.Fetched(h.Kind(), telemetry.ResultOK)
	slog.Debug("poller: metrics updated", "rows", len(rows))
	return nil
}

func (e *Engine) fetchOrders(h *opreg.Handle) error {
	defer h.Done()
	n, err := e.orders.CountSince(h.Context(), orders.Midnight(e.now()))
	if err != nil {
		return e.failed(h, err, "count orders")
	}
	if !e.reg.Commit(h, func() { e.cache.SetOrdersToday(n) }) {
		e.discarded(h)
		return nil
	}
	e.metrics.Fetched(h.Kind(), telemetry.ResultOK)
	return nil
}

func (e *Engine) fetchSummary(h *opreg.Handle) error {
	s, err := e.remote.GetSystemStatusSummary(h.Context(), int(e.cfg.StatusWindow.Minutes()))
	if err != nil {
		return e.failed(h, err, "fetch status summary")
	}
	if !e.reg.Commit(h, func() { e.cache.SetStatusSummary(s) }) {
		e.discarded(h)
		return nil
	}
	e.metrics.Fetched(h.Kind(), telemetry.ResultOK)
	return nil
}

// failed classifies err: a cancelled handle's error is discarded and nil is
// returned, anything else is wrapped and returned.
func (e *Engine) failed(h *opreg.Handle, err error, op string) error {
	if h.Cause() != nil {
		e.discarded(h)
		return nil
	}
	e.metrics.Fetched(h.Kind(), telemetry.ResultError)
	return fmt.Errorf("poller: %s: %w", op, err)
}

func (e *Engine) discarded(h *opreg.Handle) {
	e.metrics.Fetched(h.Kind(), telemetry.ResultDiscarded)
	cause := h.Cause()
	if errors.Is(cause, opreg.ErrTimeout) {
		slog.Warn("poller: result discarded", "kind", h.Kind(), "reason", telemetry.Reason(cause))
		return
	}
	slog.Debug("poller: result discarded", "kind", h.Kind(), "reason", telemetry.Reason(cause))
}

func (e *Engine) setError(msg *string) {
	e.mu.Lock()
	e.state.err = msg
	e.mu.Unlock()
	e.notify()
}

// Active reports whether the engine is between Activate and Deactivate.
func (e *Engine) Active() bool {
	return e.isActive()
}

func (e *Engine) isActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// notify wakes the broadcaster without blocking.
func (e *Engine) notify() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// broadcast pushes the current View to subscribers after each change.
func (e *Engine) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.changed:
		}
		v := e.View()
		e.metrics.SetHealth(v.Totals.State)

		e.mu.Lock()
		subs := make([]func(View), 0, len(e.subs))
		for _, fn := range e.subs {
			subs = append(subs, fn)
		}
		e.mu.Unlock()

		for _, fn := range subs {
			fn(v)
		}
	}
}
