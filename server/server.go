// Package server exposes the HTTP surface of promptd: evaluation runs (plain
// and streaming), the prompt generation stream and the per-user history.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/promptforge/promptd/auth"
	"github.com/promptforge/promptd/evaluation"
	"github.com/promptforge/promptd/kernel"
	"github.com/promptforge/promptd/reasoning"
	"github.com/promptforge/promptd/storage"
	"github.com/promptforge/promptd/utils"
)

// HistoryStore lists persisted evaluation runs for one user.
type HistoryStore interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*storage.Record, error)
}

// Server routes promptd's HTTP API.
type Server struct {
	coordinator *evaluation.Coordinator
	chain       *reasoning.Chain
	factory     kernel.Factory
	store       HistoryStore
	verifier    *auth.Verifier
	logger      utils.Logger
	limiter     *rate.Limiter
	origins     []string
}

type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger utils.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStore enables the history endpoint.
func WithStore(store HistoryStore) Option {
	return func(s *Server) { s.store = store }
}

// WithVerifier enables bearer-token authentication.
func WithVerifier(verifier *auth.Verifier) Option {
	return func(s *Server) { s.verifier = verifier }
}

// WithRateLimit caps accepted requests per second across all routes.
func WithRateLimit(rps float64) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		}
	}
}

// WithAllowedOrigins restricts CORS origins. Defaults to all origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates the server. The chain and factory back the prompt generation
// stream; the coordinator backs the evaluation routes.
func New(coordinator *evaluation.Coordinator, chain *reasoning.Chain, factory kernel.Factory, opts ...Option) *Server {
	s := &Server{
		coordinator: coordinator,
		chain:       chain,
		factory:     factory,
		logger:      utils.NewLogger(utils.LogLevelInfo),
		origins:     []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.rateLimit, s.authenticate)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/evaluation/execute-model-task", s.handleEvaluate).Methods(http.MethodPost)
	v1.HandleFunc("/evaluation/execute-model-task-stream", s.handleEvaluateStream).Methods(http.MethodPost)
	v1.HandleFunc("/evaluation/history", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/prompt/generate-stream", s.handlePromptStream).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(router)
}

// authenticate attaches the caller identity when a valid bearer token is
// present. Anonymous and invalid-token requests proceed without identity;
// routes that require one reject them individually.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if s.verifier != nil && strings.HasPrefix(header, "Bearer ") {
			identity, err := s.verifier.Verify(header)
			if err == nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			} else {
				s.logger.Debug("rejected bearer token", "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
