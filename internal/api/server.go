package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/consensus"
	"github.com/valortrade/valor/internal/events"
	"github.com/valortrade/valor/internal/journal"
	"github.com/valortrade/valor/internal/metrics"
	"github.com/valortrade/valor/internal/position"
	"github.com/valortrade/valor/internal/treasury"
)

// Controller is the slice of the trading loop the control endpoints drive.
// The orchestrator implements it.
type Controller interface {
	Start() error
	Pause() error
	Stop(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	State() string
}

// Deps collects the services the handlers read from or act on. Control,
// Bus and Journal may be nil; the matching endpoints degrade gracefully.
type Deps struct {
	Router    *treasury.Router
	Positions *position.Store
	Executor  *position.Executor
	Engine    *consensus.Engine
	Control   Controller
	Bus       *events.Bus
	Journal   *journal.Store
}

// Server is the REST and WebSocket surface of the daemon.
type Server struct {
	router *gin.Engine
	deps   Deps
	hub    *Hub
	busSub *events.Subscription
	addr   string
	server *http.Server
	logger zerolog.Logger
}

// NewServer builds the gin engine, mounts all routes and wires the event
// stream hub. Call Start to begin serving.
func NewServer(cfg config.APIConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router: router,
		deps:   deps,
		hub:    NewHub(),
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		logger: config.NewLogger("api"),
	}

	s.setupRoutes()

	return s
}

// Start runs the hub relay and blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

	if s.deps.Bus != nil {
		sub, err := s.deps.Bus.SubscribeAll(func(env events.Envelope) {
			s.hub.Broadcast(env)
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Event stream relay disabled")
		} else {
			s.busSub = sub
		}
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop drains in-flight requests, disconnects stream clients and shuts the
// listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if s.busSub != nil {
		if err := s.busSub.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to unsubscribe event relay")
		}
	}
	s.hub.Stop()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// LoggerMiddleware logs each request and feeds the API metrics. The metrics
// label uses the route template, not the raw path, to keep cardinality down.
func LoggerMiddleware() gin.HandlerFunc {
	logger := config.NewLogger("api")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		method := c.Request.Method

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(method, route, fmt.Sprintf("%d", statusCode), float64(latency.Milliseconds()))

		logEvent := logger.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
