package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/middleware"
	"github.com/sireskandari/Aransite/pkg/ratelimit"
	"github.com/sireskandari/Aransite/pkg/tracing"
)

// RouterConfig wires the optional cross-cutting pieces around a Handler.
type RouterConfig struct {
	Metrics  http.Handler        // mounted at /metrics when set
	Observer middleware.Observer // per-request metrics
	Limiter  *ratelimit.Limiter  // applied to the generation endpoint only
	Tracer   *tracing.Provider
}

// NewRouter builds the service's HTTP surface: /health, /metrics and the
// /api/v1 routes.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := logging.WithComponent("http")

	r := mux.NewRouter()
	r.Use(middleware.Recoverer(logger), middleware.RequestID)
	if cfg.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(cfg.Tracer, middleware.RouteTemplate))
	}
	r.Use(middleware.AccessLog(logger, cfg.Observer))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	var generate func(http.Handler) http.Handler
	if cfg.Limiter != nil {
		generate = cfg.Limiter.Middleware(ratelimit.IPKeyFunc)
	}
	h.RegisterRoutes(r.PathPrefix("/api/v1").Subrouter(), generate)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})
	return r
}
