// Package api provides the HTTP server for the oracle network: request
// submission and status, provider registry queries, reputation views and
// network statistics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eres45/EcoChain/internal/domain"
	"github.com/eres45/EcoChain/internal/infra/rewards"
	"github.com/eres45/EcoChain/internal/oracle"
)

// Server is the oracle HTTP API server.
type Server struct {
	coord          *oracle.Coordinator
	book           *rewards.Book
	logger         zerolog.Logger
	metricsEnabled bool
}

// NewServer creates a new API server over the coordinator.
func NewServer(coord *oracle.Coordinator, book *rewards.Book, logger zerolog.Logger) *Server {
	return &Server{
		coord:  coord,
		book:   book,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/requests", s.handleSubmitRequest)
		r.Get("/requests/{id}", s.handleRequestStatus)
		r.Get("/requests/{id}/responses", s.handleRequestResponses)
		r.Post("/requests/{id}/finalize", s.handleFinalize)
		r.Post("/requests/{id}/publish", s.handlePublish)

		r.Post("/responses", s.handleSubmitResponse)

		r.Get("/providers", s.handleListProviders)
		r.Get("/providers/{id}/rewards", s.handleProviderRewards)

		r.Get("/reputation/top", s.handleTopReputation)
		r.Get("/reputation/{id}", s.handleReputationDetails)

		r.Get("/stats", s.handleStats)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// errStatus maps domain sentinel errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRequestNotFound),
		errors.Is(err, domain.ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRequestExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrRequestClosed),
		errors.Is(err, domain.ErrDuplicateResponse),
		errors.Is(err, domain.ErrProviderExists),
		errors.Is(err, domain.ErrNotFinalized):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientQuorum),
		errors.Is(err, domain.ErrUnsupportedPayload),
		errors.Is(err, domain.ErrChainNotConnected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
