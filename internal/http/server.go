// Package http serves the knowledge base over a small REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/devbrain/internal/events"
	"github.com/fyrsmithlabs/devbrain/internal/knowledge"
	"github.com/fyrsmithlabs/devbrain/internal/redact"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Store is the subset of knowledge.Store the API exposes.
type Store interface {
	GetFixes(ctx context.Context) ([]knowledge.WisdomBlock, error)
	SaveFix(ctx context.Context, block knowledge.WisdomBlock) error
	GetAntiPatterns(ctx context.Context) ([]knowledge.AntiPatternRecord, error)
	SaveAntiPattern(ctx context.Context, record knowledge.AntiPatternRecord) error
	GetStats(ctx context.Context) (knowledge.Stats, error)
}

// Server provides HTTP endpoints for devbrain.
type Server struct {
	echo      *echo.Echo
	store     Store
	scrubber  *redact.Scrubber
	publisher events.Publisher
	logger    *zap.Logger
	config    *Config
	now       func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server. scrubber and publisher may be nil.
func NewServer(store Store, scrubber *redact.Scrubber, publisher events.Publisher, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 3000,
		}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	e.Use(MetricsMiddleware())

	s := &Server{
		echo:      e,
		store:     store,
		scrubber:  scrubber,
		publisher: publisher,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/fixes", s.handleListFixes)
	api.POST("/fixes", s.handleSaveFix)
	api.GET("/stats", s.handleStats)
	api.GET("/anti-patterns", s.handleListAntiPatterns)
	api.POST("/anti-patterns", s.handleSaveAntiPattern)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListFixes(c echo.Context) error {
	fixes, err := s.store.GetFixes(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to list fixes", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list fixes")
	}
	if fixes == nil {
		fixes = []knowledge.WisdomBlock{}
	}
	return c.JSON(http.StatusOK, fixes)
}

// handleSaveFix stores a client-supplied block. Missing identity and
// timestamp are filled in and snippets are scrubbed of secrets.
func (s *Server) handleSaveFix(c echo.Context) error {
	var block knowledge.WisdomBlock
	if err := c.Bind(&block); err != nil {
		s.logger.Warn("invalid fix request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if block.CreatedAt == 0 {
		block.CreatedAt = s.now().UnixMilli()
	}
	block.BeforeSnippet = s.scrubber.ScrubString(block.BeforeSnippet)
	block.AfterSnippet = s.scrubber.ScrubString(block.AfterSnippet)
	block.Description = s.scrubber.ScrubString(block.Description)

	if err := block.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	if err := s.store.SaveFix(ctx, block); err != nil {
		if errors.Is(err, knowledge.ErrInvalidBlock) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("failed to save fix", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save fix")
	}
	if err := s.publisher.WisdomSaved(ctx, block); err != nil {
		s.logger.Warn("failed to publish wisdom event", zap.Error(err))
	}
	return c.JSON(http.StatusCreated, SaveResponse{Success: true, ID: block.ID})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.GetStats(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to compute stats", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute stats")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListAntiPatterns(c echo.Context) error {
	records, err := s.store.GetAntiPatterns(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to list anti-patterns", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list anti-patterns")
	}
	if records == nil {
		records = []knowledge.AntiPatternRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleSaveAntiPattern(c echo.Context) error {
	var record knowledge.AntiPatternRecord
	if err := c.Bind(&record); err != nil {
		s.logger.Warn("invalid anti-pattern request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if record.PatternName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patternName field is required")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = s.now().UnixMilli()
	}

	ctx := c.Request().Context()
	if err := s.store.SaveAntiPattern(ctx, record); err != nil {
		s.logger.Error("failed to save anti-pattern", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save anti-pattern")
	}
	if err := s.publisher.AntiPatternSaved(ctx, record); err != nil {
		s.logger.Warn("failed to publish anti-pattern event", zap.Error(err))
	}
	return c.JSON(http.StatusCreated, SaveResponse{Success: true, ID: record.ID})
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
