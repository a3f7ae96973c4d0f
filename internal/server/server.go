// Package server exposes runs, audit entries and gate decisions over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/audit"
	"github.com/Thinkelution/devlution/internal/engine"
	"github.com/Thinkelution/devlution/internal/logging"
	"github.com/Thinkelution/devlution/internal/metrics"
	"github.com/Thinkelution/devlution/internal/orchestrator"
	"github.com/Thinkelution/devlution/internal/pipeline"
)

// Service is the run API the server fronts. *orchestrator.Orchestrator
// implements it.
type Service interface {
	Status(runID string) (*orchestrator.RunInfo, error)
	StatusAll(filter pipeline.Status) ([]orchestrator.RunInfo, error)
	Audit(opts audit.ReadOpts) ([]audit.Entry, error)
	SubmitGate(ctx context.Context, runID, gateID, decision, approver, reason string) (*engine.RunResult, error)
}

// Server serves the HTTP API.
type Server struct {
	echo   *echo.Echo
	svc    Service
	logger *logging.Logger
	port   int

	// pollInterval paces the audit event stream.
	pollInterval time.Duration
	slackSecret  string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option { return func(s *Server) { s.logger = l.Named("server") } }

// WithPollInterval sets how often the event stream checks for new entries.
func WithPollInterval(d time.Duration) Option { return func(s *Server) { s.pollInterval = d } }

// New creates a Server listening on port once started.
func New(svc Service, port int, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:         e,
		svc:          svc,
		logger:       logging.Nop(),
		port:         port,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLog)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/runs/:id/audit", s.handleRunAudit)
	api.GET("/runs/:id/events", s.handleRunEvents)
	api.POST("/runs/:id/gates/:gate", s.handleGateDecision)
	if s.slackSecret != "" {
		api.POST("/slack/interactions", s.handleSlackInteraction)
	}
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		metrics.HTTPRequests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).Inc()
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
