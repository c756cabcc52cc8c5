package opreg

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Kind names an operation class. At most one handle per Kind is live.
type Kind string

const (
	KindMetrics       Kind = "metrics"
	KindHealthPing    Kind = "health_ping"
	KindStatusSummary Kind = "status_summary"
	KindOrdersToday   Kind = "orders_today"
)

// Default deadlines.
const (
	DefaultFetchTimeout = 12 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Cancellation causes, retrievable with context.Cause(h.Context()).
var (
	ErrSuperseded = errors.New("superseded")
	ErrTimeout    = errors.New("operation timed out")
	ErrTornDown   = errors.New("torn down")
)

// IsCancelled reports whether err stems from a registry cancellation or a
// plain context cancellation. Such errors are expected and never surfaced.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTornDown) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Handle ties a cancellation token and a deadline timer to one operation.
type Handle struct {
	kind    Kind
	ctx     context.Context
	cancel  context.CancelCauseFunc
	release context.CancelFunc
	reg     *Registry
}

// Kind returns the operation kind of h.
func (h *Handle) Kind() Kind { return h.kind }

// Context is cancelled when h is superseded, times out, or is torn down.
func (h *Handle) Context() context.Context { return h.ctx }

// Cause returns why h was cancelled, or nil while it is still active.
func (h *Handle) Cause() error { return context.Cause(h.ctx) }

// Done releases the deadline timer and drops h from the registry if it is
// still the live handle. Safe to call more than once and on every completion
// path.
func (h *Handle) Done() {
	h.release()
	h.reg.mu.Lock()
	if cur, ok := h.reg.live[h.kind]; ok && cur == h {
		delete(h.reg.live, h.kind)
	}
	h.reg.mu.Unlock()
	h.cancel(context.Canceled)
}

// Registry holds the live handle for each kind.
//
// All exported methods are safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	live   map[Kind]*Handle
	parent context.Context

	// onCancel, if set, observes every supersession, timeout, and teardown.
	onCancel func(kind Kind, cause error)
}

// New returns an empty Registry whose handles derive from parent.
func New(parent context.Context) *Registry {
	if parent == nil {
		parent = context.Background()
	}
	return &Registry{live: make(map[Kind]*Handle), parent: parent}
}

// OnCancel registers fn to observe cancellations (used for metrics).
func (r *Registry) OnCancel(fn func(kind Kind, cause error)) {
	r.mu.Lock()
	r.onCancel = fn
	r.mu.Unlock()
}

// Begin cancels any live handle of kind and starts a new one that expires
// after timeout. A non-positive timeout means no deadline.
func (r *Registry) Begin(kind Kind, timeout time.Duration) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.live[kind]; ok {
		r.cancelLocked(prev, ErrSuperseded)
	}

	ctx, cancel := context.WithCancelCause(r.parent)
	release := func() {}
	if timeout > 0 {
		ctx, release = context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	}

	h := &Handle{kind: kind, ctx: ctx, cancel: cancel, release: release, reg: r}
	r.live[kind] = h

	if timeout > 0 {
		notify := r.onCancel
		context.AfterFunc(ctx, func() {
			if notify != nil && errors.Is(context.Cause(ctx), ErrTimeout) {
				notify(kind, ErrTimeout)
			}
		})
	}
	return h
}

// Active reports whether h is still the live, uncancelled handle for its kind.
func (r *Registry) Active(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked(h)
}

// Commit runs fn while holding the registry lock, but only if h is still the
// live, uncancelled handle for its kind. It reports whether fn ran.
func (r *Registry) Commit(h *Handle, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activeLocked(h) {
		return false
	}
	fn()
	return true
}

// InFlight reports whether a handle of kind is currently live.
func (r *Registry) InFlight(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[kind]
	return ok
}

// Cancel cancels the live handle of kind, if any, with cause.
func (r *Registry) Cancel(kind Kind, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.live[kind]; ok {
		r.cancelLocked(h, cause)
	}
}

// CancelAll cancels every outstanding handle with ErrTornDown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.live {
		r.cancelLocked(h, ErrTornDown)
	}
}

func (r *Registry) activeLocked(h *Handle) bool {
	cur, ok := r.live[h.kind]
	return ok && cur == h && h.ctx.Err() == nil
}

func (r *Registry) cancelLocked(h *Handle, cause error) {
	delete(r.live, h.kind)
	h.cancel(cause)
	h.release()
	if r.onCancel != nil {
		r.onCancel(h.kind, cause)
	}
}
