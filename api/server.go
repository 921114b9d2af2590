// Package api exposes the Coffer engine over an internal JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/coffer"
)

// Server is the Coffer HTTP API server.
type Server struct {
	engine  *coffer.Coffer
	logger  *slog.Logger
	metrics http.Handler
	timeout time.Duration
}

// NewServer creates a server over engine.
func NewServer(engine *coffer.Coffer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger, timeout: 30 * time.Second}
}

// EnableMetrics serves g on /metrics.
func (s *Server) EnableMetrics(g prometheus.Gatherer) {
	s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/workspaces", func(r chi.Router) {
		r.Post("/", s.handleCreateWorkspace)
		r.Route("/{workspaceID}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkspace)
			r.Put("/plan", s.handleChangePlan)
			r.Get("/allowance", s.handleGetAllowance)
			r.Post("/actions", s.handleAuthorizeActions)
			r.Post("/tributes", s.handleSubmitTribute)
			r.Get("/collectibles", s.handleListCollectibles)

			r.Get("/transactions", s.handleListTransactions)
			r.Post("/transactions", s.handleRecordTransaction)
			r.Post("/transactions/{txID}/confirm", s.handleConfirmTransaction)
			r.Post("/transactions/{txID}/fail", s.handleFailTransaction)

			r.Get("/effects", s.handleListEffects)
			r.Post("/effects", s.handleActivateEffect)
		})
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/", s.handleCreateEvent)
		r.Get("/active", s.handleGetActiveEvent)
		r.Post("/active/contributions", s.handleContribute)
		r.Get("/{eventID}", s.handleGetEvent)
		r.Get("/{eventID}/contributions", s.handleListContributions)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": msg,
		},
	})
}

// fail maps an engine error onto a status and error code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case coffer.IsInsufficientCredits(err):
		return http.StatusPaymentRequired, "insufficient_credits"
	case coffer.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, coffer.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case coffer.IsInvalidState(err):
		return http.StatusConflict, "invalid_state"
	case coffer.IsRetryable(err):
		return http.StatusServiceUnavailable, "storage_conflict"
	case coffer.IsInvalidInput(err):
		return http.StatusBadRequest, "invalid_input"
	case coffer.IsConfigurationError(err):
		return http.StatusInternalServerError, "configuration"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
