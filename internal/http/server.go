// Package http provides the HTTP API for almseed.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/almseed/internal/logging"
	"github.com/fyrsmithlabs/almseed/internal/session"
)

const sessionKey = "session"

// Server provides HTTP endpoints over the session layer.
type Server struct {
	echo    *echo.Echo
	service *session.Service
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(service *session.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if service == nil || service.Store == nil {
		return nil, fmt.Errorf("session service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8085,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID != "" {
				c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), requestID)))
			}
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)

	sess := v1.Group("/sessions/:id", s.withSession)
	sess.GET("", s.handleGetSession)
	sess.DELETE("", s.handleDeleteSession)

	sess.POST("/connect", s.handleConnect)
	sess.POST("/disconnect", s.handleDisconnect)
	sess.GET("/projects", s.handleProjects)
	sess.PUT("/project", s.handleSelectProject)
	sess.GET("/trackers", s.handleTrackers)
	sess.GET("/trackers/:tracker/items", s.handleTrackerItems)
	sess.PUT("/product", s.handleSetProduct)

	gen := sess.Group("/generate")
	gen.POST("/top-level", s.handleTopLevel)
	gen.POST("/traceability", s.handleTraceability)
	gen.POST("/compliance", s.handleCompliance)
	gen.POST("/compliance-downstream", s.handleComplianceDownstream)
	gen.POST("/test-steps", s.handleTestSteps)
	gen.POST("/test-run", s.handleTestRun)
	gen.POST("/batch", s.handleBatch)

	upd := sess.Group("/update")
	upd.POST("/statuses", s.handleUpdateStatuses)
	upd.POST("/fields", s.handleUpdateFields)

	pg := sess.Group("/purge")
	pg.POST("/tracker", s.handlePurgeTracker)
	pg.POST("/project", s.handlePurgeProject)

	p := sess.Group("/plm")
	p.POST("/connect", s.handlePLMConnect)
	p.GET("/products", s.handlePLMProducts)
	p.POST("/parts", s.handlePLMParts)
}

// withSession resolves the :id path parameter and tags the request context.
func (s *Server) withSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := s.service.Store.Get(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		c.Set(sessionKey, sess)
		c.SetRequest(c.Request().WithContext(logging.WithSessionID(c.Request().Context(), sess.ID)))
		return next(c)
	}
}

func current(c echo.Context) *session.Session {
	return c.Get(sessionKey).(*session.Session)
}

// bind decodes the request body, reporting malformed input as 400.
func (s *Server) bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		s.logger.Warn("invalid request body", zap.String("path", c.Path()), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
