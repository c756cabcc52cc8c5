package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opspulse/opspulse/agent/internal/poller"
	"github.com/opspulse/opspulse/agent/internal/remote"
	"github.com/opspulse/opspulse/agent/internal/security"
)

// Engine is the part of poller.Engine the API drives.
type Engine interface {
	View() poller.View
	Active() bool
	Refetch(silent bool) bool
	RefreshStatus(reason string) bool
	AfterMaintenance(ctx context.Context, olderThanDays int) error
}

// Options carries the optional collaborators of the handler. Zero values
// disable the related route or hint.
type Options struct {
	// Gatherer backs GET /metrics.
	Gatherer prometheus.Gatherer
	// Stream is mounted at /ws/stream.
	Stream http.Handler
	// Breaker reports the remote circuit breaker state.
	Breaker func() string
	// DataAge reports how long ago metrics rows were written, and false if never.
	DataAge func() (time.Duration, bool)
	// Cert reports the latest remote certificate check.
	Cert func() *security.CertStatus
	// StaleAfter is the age past which the health endpoint flags stale data.
	StaleAfter time.Duration
}

// Handler is the HTTP handler for the agent's consumer surface.
type Handler struct {
	eng  Engine
	opts Options
	mux  *http.ServeMux
}

// New creates a Handler wired to eng and registers all routes.
func New(eng Engine, opts Options) http.Handler {
	h := &Handler{eng: eng, opts: opts, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/refetch", h.refetch)
	h.mux.HandleFunc("/api/v1/refresh-status", h.refreshStatus)
	h.mux.HandleFunc("/api/v1/maintenance/clear-metrics", h.clearMetrics)

	if opts.Gatherer != nil {
		h.mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Stream != nil {
		h.mux.Handle("/ws/stream", opts.Stream)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// snapshot returns GET /api/v1/snapshot, the current view.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.eng.View())
}

// health returns GET /api/v1/health: derived state plus diagnostic hints.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	v := h.eng.View()
	in := diagInput{staleAfter: h.opts.StaleAfter}
	if h.opts.Breaker != nil {
		in.breaker = h.opts.Breaker()
	}
	if h.opts.DataAge != nil {
		in.age, in.hasData = h.opts.DataAge()
	}
	if h.opts.Cert != nil {
		in.cert = h.opts.Cert()
	}

	resp := HealthResponse{
		State:            v.Totals.State,
		SpeedLabel:       v.SpeedLabel,
		SpeedDescription: v.SpeedDescription,
		Actions:          v.Totals.Actions,
		Errors:           v.Totals.Errors,
		SlowRate:         v.Totals.SlowRate,
		Connectivity:     v.ConnectivityStatus,
		Breaker:          in.breaker,
		Cert:             in.cert,
		Problems:         v.Totals.Problems,
		Diagnostics:      computeDiagnostics(v, in),
	}
	if in.hasData {
		secs := in.age.Seconds()
		resp.DataAgeSeconds = &secs
	}
	jsonResp(w, http.StatusOK, resp)
}

// refetch handles POST /api/v1/refetch[?silent=true].
func (h *Handler) refetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	silent := false
	if s := r.URL.Query().Get("silent"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "silent must be a boolean")
			return
		}
		silent = b
	}
	h.command(w, h.eng.Refetch(silent))
}

// refreshStatus handles POST /api/v1/refresh-status. The body is optional.
func (h *Handler) refreshStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	h.command(w, h.eng.RefreshStatus(req.Reason))
}

// clearMetrics handles POST /api/v1/maintenance/clear-metrics.
func (h *Handler) clearMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req clearRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OlderThanDays < 1 {
		jsonErr(w, http.StatusBadRequest, "older_than_days must be at least 1")
		return
	}

	if err := h.eng.AfterMaintenance(r.Context(), req.OlderThanDays); err != nil {
		slog.Warn("api: clear metrics failed", "older_than_days", req.OlderThanDays, "err", err)
		jsonErr(w, http.StatusBadGateway, remote.Message(err, "clear_metrics failed"))
		return
	}
	jsonResp(w, http.StatusOK, CommandResponse{Ran: true, View: h.eng.View()})
}

// --- helpers ----------------------------------------------------------------

// command answers a Refetch/RefreshStatus call: 200 when it ran, 202 when it
// was dropped because an equivalent operation was already in flight, and 503
// when the engine is not running at all.
func (h *Handler) command(w http.ResponseWriter, ran bool) {
	if !ran && !h.eng.Active() {
		jsonErr(w, http.StatusServiceUnavailable, "engine inactive")
		return
	}
	code := http.StatusOK
	if !ran {
		code = http.StatusAccepted
	}
	jsonResp(w, code, CommandResponse{Ran: ran, View: h.eng.View()})
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
