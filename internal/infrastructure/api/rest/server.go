package rest

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/notifyx/notifyx/internal/application/engine"
	"github.com/notifyx/notifyx/internal/application/notification"
	"github.com/notifyx/notifyx/internal/application/provider"
	"github.com/notifyx/notifyx/internal/application/queue"
	"github.com/notifyx/notifyx/internal/application/ratelimit"
	"github.com/notifyx/notifyx/internal/application/registry"
	"github.com/notifyx/notifyx/internal/application/rules"
	"github.com/notifyx/notifyx/internal/application/template"
	"github.com/notifyx/notifyx/internal/domain"
)

// Services bundles everything the handlers need. The composition root
// constructs it once and passes it in whole.
type Services struct {
	Orchestrator *notification.Orchestrator
	Workers      *notification.WorkerPool
	Queue        *queue.PriorityQueue
	DLQ          *queue.DeadLetterStore
	Limiter      *ratelimit.Limiter
	Templates    *template.Service
	Rules        *rules.Engine
	Providers    *provider.Registry
	Workflows    domain.WorkflowRepository
	Runs         domain.RunRepository
	Engine       *engine.Engine
	Validator    *engine.Validator
	Connectors   *registry.Registry
	Resolver     *registry.Resolver

	// Realtime is the websocket hub handler mounted at /ws; it performs
	// its own handshake authentication.
	Realtime http.Handler
}

// Server is the REST surface of the platform.
type Server struct {
	services Services
	mux      *http.ServeMux
	handler  http.Handler
	logger   zerolog.Logger
}

// NewServer builds the routed and middleware-wrapped server.
func NewServer(services Services, auth AuthConfig, logger zerolog.Logger) *Server {
	s := &Server{
		services: services,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.routes(auth)
	return s
}

func (s *Server) routes(auth AuthConfig) {
	// Health endpoints are unauthenticated.
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/ready", s.handleHealthReady)
	s.mux.HandleFunc("GET /health/live", s.handleHealthLive)

	if s.services.Realtime != nil {
		s.mux.Handle("GET /ws", s.services.Realtime)
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/notifications", s.handleSendNotification)
	api.HandleFunc("GET /api/notifications/{id}", s.handleGetNotification)
	api.HandleFunc("POST /api/notifications/{id}/ack", s.handleAckNotification)

	api.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	api.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	api.HandleFunc("PUT /api/workflows/{id}", s.handleUpdateWorkflow)
	api.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	api.HandleFunc("POST /api/workflows/import", s.handleImportWorkflow)
	api.HandleFunc("GET /api/workflows/{id}/export", s.handleExportWorkflow)

	api.HandleFunc("POST /api/workflows/{id}/runs", s.handleStartRun)
	api.HandleFunc("GET /api/workflows/{id}/runs", s.handleListRuns)
	api.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	api.HandleFunc("GET /api/runs/{id}/nodes", s.handleGetRunNodes)
	api.HandleFunc("POST /api/runs/{id}/replay", s.handleReplayRun)
	api.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)

	api.HandleFunc("GET /api/connectors", s.handleListConnectors)
	api.HandleFunc("GET /api/stats", s.handleStats)
	api.HandleFunc("GET /api/dlq", s.handleListDLQ)

	s.mux.Handle("/api/", authMiddleware(auth, api))

	s.handler = corsMiddleware(
		recoveryMiddleware(s.logger,
			loggingMiddleware(s.logger, s.mux)))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
