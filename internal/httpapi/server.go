// Package httpapi is the thin HTTP adapter over the sandbox coordinator: it
// translates GET/POST/DELETE /sandbox requests into Registry calls and
// marshals the results back to JSON. No orchestration logic lives here.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/matchbox-labs/sandboxd/internal/audit"
	"github.com/matchbox-labs/sandboxd/internal/logging"
	"github.com/matchbox-labs/sandboxd/internal/sandbox"
)

// Server holds the dependencies every handler needs. Trail is the optional
// postgres audit sink; a nil Trail simply skips recording.
type Server struct {
	registry *sandbox.Registry
	logger   logging.Logger
	trail    *audit.Trail
}

// New returns a Server backed by registry. logger and trail may be nil.
func New(registry *sandbox.Registry, logger logging.Logger, trail *audit.Trail) *Server {
	return &Server{registry: registry, logger: logger, trail: trail}
}

func (s *Server) audit(event audit.EventType, id, ip, detail string) {
	if s.trail == nil {
		return
	}
	if err := s.trail.Record(context.Background(), id, event, ip, detail); err != nil && s.logger != nil {
		s.logger.Warn(context.Background(), "failed to record audit event", map[string]interface{}{"error": err.Error()})
	}
}

// Routes builds the chi router: request-id/real-ip/logging/recovery/timeout
// middleware, permissive CORS, and the four sandbox routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(correlationID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/sandbox", s.listSandboxes)
	r.Post("/sandbox", s.createSandbox)
	r.Delete("/sandbox/{id}", s.deleteSandbox)
	r.Post("/sandbox/{id}/execute", s.executeSandbox)

	return r
}

// correlationID stamps every response with a fresh request-scoped id in
// the X-Correlation-ID header, independent of chi's own incrementing
// RequestID. The id is not added to log lines or audit records.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Correlation-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// respondError always answers with code 500: the sandbox HTTP surface
// distinguishes success from failure, not failure kinds, by status code.
func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   http.StatusText(http.StatusInternalServerError),
		Message: err.Error(),
		Code:    http.StatusInternalServerError,
	})
}
