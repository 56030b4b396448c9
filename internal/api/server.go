// Package api serves the InfraWatch REST API and the live websocket feed.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/br00tm/infrawatch/internal/alert"
	"github.com/br00tm/infrawatch/internal/auth"
	"github.com/br00tm/infrawatch/internal/config"
	"github.com/br00tm/infrawatch/internal/database"
	"github.com/br00tm/infrawatch/internal/models"
	"github.com/br00tm/infrawatch/internal/telemetry"
	"github.com/br00tm/infrawatch/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// Deps are the services the handlers call into.
type Deps struct {
	DB        *gorm.DB
	Metrics   *database.MetricRepository
	Logs      *database.LogRepository
	LogStats  *database.LogStatsRepository
	Health    *database.HealthRepository
	Users     *database.UserRepository
	Rules     *alert.RuleManager
	Alerts    *alert.AlertManager
	Engine    *alert.Engine
	Auth      *auth.Authenticator
	Hub       *ws.Hub
	Telemetry *telemetry.Metrics
	Gatherer  prometheus.Gatherer
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *gin.Engine
	log    zerolog.Logger
	now    func() time.Time
}

func NewServer(cfg config.ServerConfig, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: gin.New(),
		log:    log.With().Str("component", "api").Logger(),
		now:    time.Now,
	}

	s.router.Use(gin.Recovery(), requestID(), accessLog(s.log), httpMetrics(deps.Telemetry))
	if len(cfg.CORSOrigins) > 0 {
		s.router.Use(corsMiddleware(cfg.CORSOrigins))
	}
	s.setupRoutes()
	return s
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-API-Key", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cors.New(cc)
		}
	}
	cc.AllowOrigins = origins
	cc.AllowCredentials = true
	return cors.New(cc)
}

func (s *Server) setupRoutes() {
	r := s.router
	d := s.deps

	// Public routes
	r.GET("/health", s.health)
	r.GET("/health/live", s.health)
	r.GET("/health/ready", s.ready)
	r.GET("/metrics", gin.WrapH(s.metricsHandler()))
	r.POST("/api/v1/auth/login", s.login)
	r.POST("/api/v1/auth/register", s.register)

	authed := r.Group("")
	authed.Use(d.Auth.Middleware())
	authed.GET("/ws", gin.WrapH(d.Hub))

	writers := auth.RequireRole(models.RoleAdmin, models.RoleUser)
	admins := auth.RequireRole(models.RoleAdmin)

	api := authed.Group("/api/v1")
	api.GET("/auth/me", s.me)

	api.POST("/metrics", writers, s.createMetric)
	api.POST("/metrics/batch", writers, s.createMetricBatch)
	api.GET("/metrics", s.listMetrics)
	api.GET("/metrics/aggregate", s.aggregateMetrics)

	api.POST("/logs", writers, s.createLog)
	api.POST("/logs/batch", writers, s.createLogBatch)
	api.GET("/logs", s.listLogs)
	api.GET("/logs/stats", s.logStats)

	alerts := api.Group("/alerts")
	{
		alerts.GET("", s.listAlerts)
		alerts.GET("/stats", s.alertStats)
		alerts.GET("/:id", s.getAlert)
		alerts.POST("", writers, s.createAlert)
		alerts.POST("/:id/acknowledge", writers, s.acknowledgeAlert)
		alerts.POST("/:id/resolve", writers, s.resolveAlert)
		alerts.POST("/:id/silence", writers, s.silenceAlert)
		alerts.DELETE("/:id", admins, s.deleteAlert)
	}

	rules := api.Group("/rules")
	{
		rules.GET("", s.listRules)
		rules.GET("/export", admins, s.exportRules)
		rules.GET("/:id", s.getRule)
		rules.POST("", admins, s.createRule)
		rules.PUT("/:id", admins, s.updateRule)
		rules.DELETE("/:id", admins, s.deleteRule)
		rules.PUT("/:id/enable", admins, s.enableRule)
		rules.PUT("/:id/disable", admins, s.disableRule)
		rules.POST("/validate", admins, s.validateRule)
		rules.POST("/import", admins, s.importRules)
		rules.POST("/:id/test", admins, s.testRule)
	}

	admin := api.Group("/admin")
	admin.Use(admins)
	admin.GET("/users", s.listUsers)
	admin.POST("/users", s.createUser)
	admin.PUT("/users/:id", s.updateUser)
	admin.DELETE("/users/:id", s.deleteUser)

	api.GET("/system/health", s.systemHealth)
}

func (s *Server) metricsHandler() http.Handler {
	if s.deps.Gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured port until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	s.log.Info().Msg("API server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": s.now().UTC()})
}

func (s *Server) ready(c *gin.Context) {
	if err := database.Ping(c.Request.Context(), s.deps.DB); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) systemHealth(c *gin.Context) {
	rec, err := s.deps.Health.Latest(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
