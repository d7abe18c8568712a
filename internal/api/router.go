// Package api is the HTTP front door: webhook intake, health, metrics and
// read access to recorded event outcomes.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/gitlab"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/middleware"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/stats"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/config"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/metrics"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/resilience"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/tracing"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Dependencies wires the router to the rest of the service
type Dependencies struct {
	Config   *config.Config
	Intake   Intake
	Queue    Submitter
	Pool     PoolStats
	Recorder stats.Recorder
	Breakers []*resilience.CircuitBreaker
	Checks   map[string]Pinger
	Metrics  *metrics.Metrics
	Tracing  *tracing.TracingService
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.GetLogger()
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.ErrorLoggingMiddleware(logger))
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware(cfg.Server.CORSOrigins))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}

	health := NewHealthHandler(deps.Pool, deps.Breakers, deps.Checks, Version)
	router.GET("/health", health.Handle)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	webhooks := NewWebhookHandler(deps.Intake, deps.Queue)
	hooks := router.Group("/webhook")
	{
		hooks.POST("/gitlab", SecretHeaderMiddleware(gitlab.TokenHeader, cfg.GitLab.WebhookSecret), webhooks.GitLab)
		if cfg.Jenkins.Enabled {
			hooks.POST("/jenkins", SecretHeaderMiddleware(JenkinsTokenHeader, cfg.Jenkins.WebhookSecret), webhooks.Jenkins)
		}
	}

	events := NewEventHandler(deps.Recorder)
	v1 := router.Group("/api/v1")
	{
		v1.GET("/events/:id", events.GetEvent)
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
