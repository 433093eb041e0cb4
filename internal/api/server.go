package api

import (
	"context"
	"net/http"
	"time"

	"example.com/backstage/services/keygate/config"
	"example.com/backstage/services/keygate/internal/api/handlers"
	"example.com/backstage/services/keygate/internal/api/views"
	"example.com/backstage/services/keygate/internal/gate"
	"example.com/backstage/services/keygate/internal/metrics"
	"example.com/backstage/services/keygate/internal/services"
	"example.com/backstage/services/keygate/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Deps are the components the HTTP surface calls into
type Deps struct {
	Gate      *gate.Gate
	Keys      *services.KeyRegistry
	Blacklist *services.BlacklistRegistry
	Tracker   *services.Tracker
	Queue     *services.NotificationQueue
	Payments  *services.Payments
	Audit     handlers.AuditSearcher
	Metrics   *metrics.Metrics
	Tracer    *newrelic.Application
	Checks    map[string]handlers.HealthCheck
	Clock     services.Clock
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	server := &Server{
		config: cfg,
		deps:   deps,
	}

	router, err := server.setupRouter()
	if err != nil {
		return nil, err
	}
	server.router = router

	server.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	return server, nil
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() (*gin.Engine, error) {
	gin.SetMode(s.config.Server.Mode)
	router := gin.New()
	if err := router.SetTrustedProxies(s.config.Server.TrustedProxies); err != nil {
		return nil, errors.Wrap(err, "invalid trusted proxies")
	}
	router.SetHTMLTemplate(views.Templates())
	handlers.RegisterValidations()

	router.Use(RequestIDMiddleware())
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware())
	router.Use(s.deps.Metrics.Middleware())
	router.Use(tracing.Middleware(s.deps.Tracer))

	handlers.NewFunnelHandler(
		s.deps.Gate,
		s.deps.Keys,
		s.deps.Blacklist,
		s.deps.Tracker,
		s.deps.Queue,
		s.deps.Metrics,
		s.deps.Clock,
	).RegisterRoutes(router)

	handlers.NewPaymentHandler(s.deps.Payments, s.config.Payment.Secret).RegisterRoutes(router)
	handlers.NewHealthHandler(s.deps.Metrics, s.deps.Checks).RegisterRoutes(router)

	admin := router.Group("/admin", AdminAuth(s.config.Admin.Secret, s.config.Admin.SecretParam))
	handlers.NewAdminHandler(
		s.deps.Keys,
		s.deps.Blacklist,
		s.deps.Tracker,
		s.deps.Queue,
		s.deps.Audit,
		s.config.Admin.SecretParam,
		s.deps.Clock,
	).RegisterRoutes(admin)

	return router, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	// Create a timeout context for shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
