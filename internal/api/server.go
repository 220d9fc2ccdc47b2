package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"structure-engine/internal/engine"
	"structure-engine/internal/events"
	"structure-engine/internal/feed"
	"structure-engine/internal/journal"
	"structure-engine/internal/market"
	"structure-engine/internal/metrics"
	"structure-engine/internal/risk"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `json:"port" yaml:"port"`
	Host           string   `json:"host" yaml:"host"`
	ProductionMode bool     `json:"production_mode" yaml:"production_mode"`
	JWTSecret      string   `json:"jwt_secret" yaml:"jwt_secret"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins"`
	FetchLimit     int      `json:"fetch_limit" yaml:"fetch_limit"`
}

// SnapshotReader returns the latest cached snapshot of a series.
type SnapshotReader interface {
	Get(ctx context.Context, symbol string, tf market.Timeframe) (engine.Snapshot, bool, error)
}

// SignalLister returns journalled signals, newest first.
type SignalLister interface {
	Recent(ctx context.Context, symbol string, limit int) ([]journal.Signal, error)
}

// Deps are the server's collaborators. Analyzer and Sizer are required; the
// routes backed by a nil collaborator answer 503.
type Deps struct {
	Analyzer    *engine.Analyzer
	Sizer       *risk.Sizer
	Source      feed.Source
	Snapshots   SnapshotReader
	Signals     SignalLister
	Bus         *events.EventBus
	Metrics     *metrics.Registry
	Instruments map[string]market.Instrument
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	deps       Deps
	hub        *WSHub
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.CORSOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	if config.FetchLimit <= 0 {
		config.FetchLimit = 500
	}

	server := &Server{
		router:    router,
		config:    config,
		deps:      deps,
		logger:    logger.With().Str("component", "APIServer").Logger(),
		startedAt: time.Now(),
	}
	router.Use(server.requestMiddleware())

	if deps.Bus != nil {
		server.hub = InitWebSocket(deps.Bus, server.logger)
	}

	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	if s.hub != nil {
		s.router.GET("/ws", s.handleWebSocket)
	}

	v1 := s.router.Group("/api/v1")
	if s.config.JWTSecret != "" {
		v1.Use(JWTMiddleware(s.config.JWTSecret))
	}
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/size", s.handleSize)
		v1.GET("/snapshots/:symbol/:timeframe", s.handleSnapshot)
		v1.GET("/signals/:symbol", s.handleSignals)
	}
}

// requestMiddleware logs each request and counts it by route and status.
func (s *Server) requestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if s.deps.Metrics != nil {
			s.deps.Metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"error":   code,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
