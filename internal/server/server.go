package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/config"
	"github.com/raaihank/txn-sentinel/internal/learning"
	"github.com/raaihank/txn-sentinel/internal/logger"
	"github.com/raaihank/txn-sentinel/internal/stats"
	"github.com/raaihank/txn-sentinel/internal/web"
	"github.com/raaihank/txn-sentinel/internal/websocket"
)

// Version is reported by /info; set at build time.
var Version = "dev"

// Deps are the collaborators the server routes requests to. Stats and
// Learning may be nil.
type Deps struct {
	Engine   *anonymizer.Engine
	Stats    *stats.Log
	Learning *learning.Store
	Hub      *websocket.Hub
}

// Server represents the HTTP service
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	deps    Deps
	method  anonymizer.ReplaceMethod
	limiter *clientLimiter
	router  *mux.Router
	server  *http.Server
	started time.Time
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("server requires an engine")
	}
	method, err := anonymizer.ParseReplaceMethod(cfg.Anonymizer.Method)
	if err != nil {
		return nil, err
	}
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub(HubConfig(cfg.WebSocket), log.WithComponent("websocket").Logger)
	}

	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		deps:    deps,
		method:  method,
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	if cfg.Server.RateLimit.Enabled {
		s.limiter = newClientLimiter(cfg.Server.RateLimit)
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// HubConfig maps the websocket config section to hub settings.
func HubConfig(c config.WebSocketConfig) websocket.HubConfig {
	return websocket.HubConfig{
		BroadcastDetections: c.Events.BroadcastDetections,
		BroadcastBatches:    c.Events.BroadcastBatches,
		BroadcastSystem:     c.Events.BroadcastSystem,
		Username:            c.Username,
		Password:            c.Password,
		AllowedOrigins:      c.AllowedOrigins,
		MaxConnections:      c.MaxConnections,
		ReadBufferSize:      c.ReadBufferSize,
		WriteBufferSize:     c.WriteBufferSize,
		PingInterval:        c.PingInterval,
		PongTimeout:         c.PongTimeout,
		WriteTimeout:        c.WriteTimeout,
		MaxMessageSize:      c.MaxMessageSize,
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.deps.Hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	if s.limiter != nil {
		api.Use(s.rateLimitMiddleware)
	}
	api.Use(s.bodyLimitMiddleware)
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods(http.MethodPost)
	api.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/learn", s.handleLearn).Methods(http.MethodPost)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and serves until Stop is called. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting txn-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("method", string(s.method)),
		zap.Bool("statistical", s.config.Statistical.Enabled),
		zap.Bool("adjudicator", s.config.Adjudicator.Enabled),
	)

	go s.deps.Hub.Run(ctx)

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping txn-sentinel server")
	return s.server.Shutdown(ctx)
}

// BroadcastStatus sends the current processing summary to dashboard clients.
func (s *Server) BroadcastStatus() {
	s.deps.Hub.BroadcastEvent(websocket.Event{
		Type: websocket.EventTypeSystemStatus,
		Data: websocket.SystemStatusEvent{
			Status:           "healthy",
			Uptime:           time.Since(s.started).Round(time.Second).String(),
			Summary:          s.summary(),
			ConnectedClients: int(s.deps.Hub.GetStats().ActiveConnections),
		},
	})
}

func (s *Server) summary() stats.Summary {
	learned := 0
	if s.deps.Learning != nil {
		learned = s.deps.Learning.Count()
	}
	if s.deps.Stats == nil {
		return stats.Summary{LearnedPatterns: learned}
	}
	return s.deps.Stats.Summary(learned)
}
