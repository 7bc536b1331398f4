package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the HTTP listener.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CompanyID    string
}

// Server serves the webhook, the CRM API and the health endpoints on one port.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	chain      alice.Chain
	companyID  string
	pinger     Pinger
	logger     *zap.Logger
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewServer creates the server and registers /health and /ready.
func NewServer(cfg Config, pinger Pinger, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		router:    router,
		companyID: cfg.CompanyID,
		pinger:    pinger,
		logger:    logger.Named("http"),
	}
	s.chain = alice.New(s.recoverer, s.requestContext, s.accessLog)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	return s
}

// Handle registers h under path behind the middleware chain.
func (s *Server) Handle(path string, h http.Handler, methods ...string) {
	route := s.router.Handle(path, s.chain.Then(h))
	if len(methods) > 0 {
		route.Methods(methods...)
	}
}

// HandleFunc is Handle for plain functions.
func (s *Server) HandleFunc(path string, h http.HandlerFunc, methods ...string) {
	s.Handle(path, h, methods...)
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.router.Handle("/metrics", handler).Methods(http.MethodGet)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins the HTTP server
func (s *Server) Start() {
	utils.SafeGo(func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}, nil)
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{Status: "UP", Version: "1.0.0"})
}

// handleReady pings the database.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	details := map[string]string{"timestamp": utils.FormatISO8601(utils.Now())}
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			details["database"] = "unreachable"
			utils.WriteJSONResponse(w, http.StatusServiceUnavailable, HealthResponse{Status: "NOT_READY", Details: details})
			return
		}
		details["database"] = "ok"
	}
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{Status: "READY", Details: details})
}
