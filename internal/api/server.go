package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/middleware"
	"github.com/resistance-prophet-server/internal/profile"
	"github.com/resistance-prophet-server/internal/service"
	"github.com/resistance-prophet-server/internal/stream"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Dependencies are the services the HTTP layer routes to. Hub, MCP and
// Checks are optional.
type Dependencies struct {
	Prophet    *service.ProphetService
	Variants   *service.VariantService
	Guidelines *service.GuidelineService
	Profiles   profile.Store
	Hub        *stream.Hub
	MCP        http.Handler
	Checks     map[string]HealthCheck
	Version    string
}

// Server represents the HTTP server
type Server struct {
	cfg    *domain.Config
	deps   Dependencies
	router *gin.Engine
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, deps Dependencies, logger *logrus.Logger) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	if cfg.Telemetry.Enabled {
		router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: router,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.Server.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.cfg.Server.CertFile, s.cfg.Server.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.WithFields(logrus.Fields{
		"addr": addr,
		"tls":  s.cfg.Server.TLSEnabled,
	}).Info("HTTP server listening")

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound, domain.ErrCodeNotFound, "route not found", c.Request.URL.Path)
	})

	if s.deps.MCP != nil {
		s.router.Any("/mcp", gin.WrapH(s.deps.MCP))
	}

	v1 := s.router.Group("/api/v1")
	if s.cfg.Auth.Enabled {
		v1.Use(middleware.Auth(s.cfg.Auth))
	}
	v1.Use(middleware.RateLimit(s.cfg.RateLimit))
	{
		v1.POST("/kelim", s.handleKelim)
		v1.POST("/resistance/assess", s.handleAssessRaw)

		v1.POST("/patients", s.handleCreatePatient)
		v1.GET("/patients", s.handleListPatients)
		v1.GET("/patients/:id", s.handleGetPatient)
		v1.PUT("/patients/:id", s.handleUpdatePatient)
		v1.DELETE("/patients/:id", s.handleDeletePatient)
		v1.POST("/patients/:id/measurements", s.handleAppendMeasurements)
		v1.POST("/patients/:id/assess", s.handleAssessPatient)
		v1.GET("/patients/:id/assessments", s.handleHistory)
		v1.GET("/patients/:id/timing", s.handleTiming)
		v1.GET("/patients/:id/report", s.handleReport)
		v1.GET("/patients/:id/export.xlsx", s.handleExport)
		v1.GET("/assessments/:id", s.handleGetAssessment)

		v1.POST("/variants/classify", s.handleClassify)
		v1.POST("/variants/annotate", s.handleAnnotate)
		v1.GET("/trials", s.handleTrials)
		v1.GET("/guidelines", s.handleGuidelines)
		v1.POST("/drugs/rank", s.handleRankDrugs)

		v1.GET("/stream", s.handleStream)
	}
}

// handleHealth reports liveness plus the state of each registered dependency.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	components := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	body := gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    s.deps.Version,
		"components": components,
	}
	if s.deps.Hub != nil {
		body["stream_clients"] = s.deps.Hub.Clients()
	}
	c.JSON(code, body)
}
