package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/hawatch/internal/config"
	"github.com/gyaneshwarpardhi/hawatch/internal/engine"
	"github.com/gyaneshwarpardhi/hawatch/internal/rules"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	group    *engine.Group
	loader   *config.Loader
	reloader *engine.Reloader
	stream   http.Handler
	mux      *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader and
// reloader may be nil, in which case POST /v1/rules/reload is unavailable.
func New(group *engine.Group, loader *config.Loader, reloader *engine.Reloader, stream *Stream) http.Handler {
	h := &Handler{group: group, loader: loader, reloader: reloader, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /v1/targets", h.listTargets)
	h.mux.HandleFunc("GET /v1/targets/{name}/snapshot", h.snapshot)
	h.mux.HandleFunc("POST /v1/targets/{name}/poll", h.poll)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("POST /v1/rules/reload", h.reloadRules)
	if stream != nil {
		h.mux.Handle("GET /v1/stream", stream)
	}
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

type targetView struct {
	Name       string          `json:"name"`
	IntervalMs int64           `json:"interval_ms"`
	Rules      int             `json:"rules"`
	State      engine.State    `json:"state"`
	Last       *engine.Outcome `json:"last,omitempty"`
}

// GET /v1/targets: engines with their state and latest outcome.
func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	engines := h.group.Engines()
	out := make([]targetView, 0, len(engines))
	for _, e := range engines {
		out = append(out, targetView{
			Name:       e.Target(),
			IntervalMs: e.Interval().Milliseconds(),
			Rules:      e.Rules().Len(),
			State:      e.State(),
			Last:       e.Last(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"targets": out})
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	name := r.PathValue("name")
	e, ok := h.group.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown target %q", name))
	}
	return e, ok
}

// GET /v1/targets/{name}/snapshot: records decoded by the last good cycle.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	last := e.LastGood()
	if last == nil {
		writeError(w, http.StatusNotFound, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cycle_id": last.ID,
		"at":       last.StartedAt,
		"snapshot": last.Snapshot,
	})
}

// POST /v1/targets/{name}/poll: run one cycle now.
func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	out, err := e.RunCycle(r.Context())
	switch {
	case errors.Is(err, engine.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, out)
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /v1/rules: rules per target.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]rules.Summary)
	for _, e := range h.group.Engines() {
		rs := e.Rules().Rules()
		sums := make([]rules.Summary, len(rs))
		for i, rule := range rs {
			sums[i] = rule.Summary()
		}
		out[e.Target()] = sums
	}
	resp := map[string]interface{}{"targets": out}
	if h.loader != nil {
		resp["version"] = h.loader.Config().Version
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /v1/rules/reload: re-read the config file and merge new rules.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil || h.reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "reload is not configured")
		return
	}
	if _, err := h.loader.Reload(); err != nil {
		var invalid *config.InvalidError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	report, err := h.reloader.Last()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"added":    report.Added,
		"ignored":  report.Ignored,
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 until every target has completed a successful cycle.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	pending := []string{}
	for _, e := range h.group.Engines() {
		if last := e.Last(); last == nil || last.Kind != engine.OutcomeMatches {
			pending = append(pending, e.Target())
		}
	}
	if len(pending) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "waiting",
			"pending": pending,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}
