// Package api exposes the HTTP surface: metric ingestion, auth, dashboard
// CRUD, the health probe, and the websocket subscription route.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/insightboard/insightboard/internal/auth"
	"github.com/insightboard/insightboard/internal/gateway"
	"github.com/insightboard/insightboard/internal/model"
	"github.com/insightboard/insightboard/internal/store"
	"github.com/insightboard/insightboard/internal/streamlog"
)

// MetricProducer is the producer surface the ingestion front-door needs.
type MetricProducer interface {
	Send(ctx context.Context, rec model.MetricRecord) (streamlog.Message, error)
	Ready() bool
}

// ReadyChecker reports whether a pipeline component is usable.
type ReadyChecker interface {
	Ready() bool
}

// Pinger verifies a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds API limits.
type Config struct {
	MaxBatch int
}

// Deps are the collaborators the API serves. All are injected; handlers
// hold no ambient state.
type Deps struct {
	Tokens      *auth.Manager
	Users       store.UserStore
	Dashboards  store.DashboardStore
	Guard       store.OwnershipGuard
	Metrics     store.MetricStore
	MetricAdmin store.MetricManager
	Producer    MetricProducer
	Consumer    ReadyChecker
	Relay       ReadyChecker
	DB          Pinger
	Gateway     *gateway.Gateway
}

// Server is the HTTP handler set.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 1
	}
	return &Server{cfg: cfg, deps: deps, logger: logger}
}

// Routes builds the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	mux.HandleFunc("POST /api/v1/metrics/ingest", s.requireUser(s.handleIngest))
	mux.HandleFunc("POST /api/v1/metrics", s.requireUser(s.handleCreateMetric))
	mux.HandleFunc("GET /api/v1/metrics/{id}", s.requireUser(s.handleGetMetric))
	mux.HandleFunc("PUT /api/v1/metrics/{id}", s.requireUser(s.handleUpdateMetric))
	mux.HandleFunc("DELETE /api/v1/metrics/{id}", s.requireUser(s.handleDeleteMetric))

	mux.HandleFunc("POST /api/v1/dashboards", s.requireUser(s.handleCreateDashboard))
	mux.HandleFunc("GET /api/v1/dashboards", s.requireUser(s.handleListDashboards))
	mux.HandleFunc("GET /api/v1/dashboards/{id}", s.requireUser(s.handleGetDashboard))
	mux.HandleFunc("PUT /api/v1/dashboards/{id}", s.requireUser(s.handleUpdateDashboard))
	mux.HandleFunc("DELETE /api/v1/dashboards/{id}", s.requireUser(s.handleDeleteDashboard))
	mux.HandleFunc("GET /api/v1/dashboards/{id}/metrics", s.requireUser(s.handleListMetrics))

	if s.deps.Gateway != nil {
		mux.HandleFunc("GET /ws/dashboards/{id}", s.deps.Gateway.HandleSubscribe)
	}

	return mux
}

// requireUser authenticates the Bearer token and resolves the user before
// invoking the handler.
func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, model.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		email, err := s.deps.Tokens.VerifyToken(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "could not validate credentials")
			return
		}

		user, err := s.deps.Users.GetByEmail(r.Context(), email)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "could not validate credentials")
			return
		}

		next(w, r, user)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
