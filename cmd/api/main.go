package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/api"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/auth"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/cache"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/delivery"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/extractor"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/fetch"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/gitlab"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/jenkins"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/orchestrator"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/queue"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/stats"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/config"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/metrics"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/resilience"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/tracing"
)

// tokenCacheKey names the analysis API token in the shared store
const tokenCacheKey = "analysis"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "log-extractor",
		Version:     api.Version,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(&metrics.Config{Namespace: cfg.Metrics.Namespace, Enabled: cfg.Metrics.Enabled})

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "log-extractor",
		ServiceVersion: api.Version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialise tracing: %v", err)
	}

	checks := make(map[string]api.Pinger)

	var recorder stats.Recorder = stats.NewMemoryRecorder()
	if cfg.Database.Enabled {
		db, err := stats.Open(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		recorder = stats.NewPostgresRecorder(db)
		checks["database"] = db
		logger.Info("Statistics database connection established")
	}

	var tokenStore auth.TokenStore
	if cfg.Redis.Enabled {
		redis, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		tokenStore = cache.NewTokenStore(cache.NewService(redis, cache.DefaultConfig()))
		checks["redis"] = redis
		logger.Info("Redis connection established")
	}

	newBreaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
			IsFailure:        fetch.IsBreakerFailure,
			OnStateChange: func(name string, from, to resilience.CircuitState) {
				m.SetCircuitState(name, int(to))
			},
		})
	}
	retryFor := func(dependency string) resilience.RetryConfig {
		return resilience.RetryConfig{
			MaxRetries:  cfg.Retry.MaxRetries,
			BaseDelay:   cfg.Retry.BaseDelay,
			Exponential: cfg.Retry.Exponential,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				m.RecordRetry(dependency)
			},
		}
	}

	var breakers []*resilience.CircuitBreaker
	deps := orchestrator.Dependencies{
		Extractor: extractor.New(extractor.Config{
			LinesBefore:    cfg.Extraction.LinesBefore,
			LinesAfter:     cfg.Extraction.LinesAfter,
			MaxLineLength:  cfg.Extraction.MaxLineLength,
			IgnorePatterns: cfg.Extraction.IgnorePatterns,
		}),
		Files:    delivery.NewFileSink(cfg.Storage.OutputDir),
		Recorder: recorder,
		Metrics:  m,
		Tracing:  tracer,
	}

	if cfg.GitLab.URL != "" {
		breaker := newBreaker("gitlab")
		breakers = append(breakers, breaker)
		client := fetch.NewClient(fetch.Config{
			Service: "gitlab",
			BaseURL: cfg.GitLab.URL,
			Timeout: cfg.GitLab.Timeout,
			Retry:   retryFor("gitlab"),
		}, tracer.InstrumentHTTPClient(&http.Client{Timeout: cfg.GitLab.Timeout}), breaker, fetch.PrivateToken(cfg.GitLab.Token))
		deps.GitLab = gitlab.NewService(client)
	}

	if cfg.Jenkins.Enabled {
		breaker := newBreaker("jenkins")
		breakers = append(breakers, breaker)
		client := fetch.NewClient(fetch.Config{
			Service: "jenkins",
			BaseURL: cfg.Jenkins.URL,
			Timeout: cfg.Jenkins.Timeout,
			Retry:   retryFor("jenkins"),
		}, tracer.InstrumentHTTPClient(&http.Client{Timeout: cfg.Jenkins.Timeout}), breaker, fetch.BasicAuth(cfg.Jenkins.User, cfg.Jenkins.APIToken))
		deps.Jenkins = jenkins.NewService(client)
	}

	if cfg.Delivery.UsesAPI() {
		chain, err := newAuthChain(cfg, tokenStore)
		if err != nil {
			log.Fatalf("Failed to configure analysis API authentication: %v", err)
		}

		breaker := newBreaker("analysis")
		breakers = append(breakers, breaker)
		deps.API = delivery.NewAPISink(delivery.APIConfig{
			URL:     cfg.Delivery.APIURL,
			Timeout: cfg.Delivery.Timeout,
			Retry:   retryFor("analysis"),
		}, tracer.InstrumentHTTPClient(&http.Client{Timeout: cfg.Delivery.Timeout}), breaker, chain)
	}

	service := orchestrator.NewService(orchestrator.Config{
		SinkMode:    cfg.Delivery.SinkMode,
		Filters:     cfg.Filters,
		SaveSkipped: cfg.Filters.SaveSkipped,
	}, deps)

	pool := queue.NewWorkerPool(queue.WorkerPoolConfig{
		NumWorkers:      cfg.Worker.Workers,
		QueueSize:       cfg.Worker.QueueSize,
		JobTimeout:      cfg.Worker.JobTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, m)
	pool.RegisterHandler(orchestrator.JobType, service)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}

	router := api.NewRouter(api.Dependencies{
		Config:   cfg,
		Intake:   service,
		Queue:    pool,
		Pool:     pool,
		Recorder: recorder,
		Breakers: breakers,
		Checks:   checks,
		Metrics:  m,
		Tracing:  tracer,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr, "sink_mode", cfg.Delivery.SinkMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	// queued events still run; anything left after the timeout is abandoned
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("Worker pool did not drain before shutdown", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", "error", err)
	}

	logger.Info("Server exited")
}

// newAuthChain builds the analysis API credential chain from whatever is configured
func newAuthChain(cfg *config.Config, store auth.TokenStore) (*auth.Chain, error) {
	var signer *auth.Signer
	if cfg.Auth.SigningKey != "" {
		s, err := auth.NewSigner(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Subject, cfg.Auth.TokenTTL)
		if err != nil {
			return nil, err
		}
		signer = s
	}

	var tokens *auth.TokenClient
	if cfg.Auth.AuthHost != "" {
		tokens = auth.NewTokenClient(auth.TokenClientConfig{
			AuthHost: cfg.Auth.AuthHost,
			Subject:  cfg.Auth.Subject,
			TTL:      cfg.Auth.TokenTTL,
			Timeout:  cfg.Delivery.Timeout,
			Retry: resilience.RetryConfig{
				MaxRetries:  cfg.Retry.MaxRetries,
				BaseDelay:   cfg.Retry.BaseDelay,
				Exponential: cfg.Retry.Exponential,
			},
		}, nil, auth.NewTokenCache(cfg.Auth.RefreshMargin, store, tokenCacheKey))
	}

	return auth.NewChain(signer, tokens, cfg.Auth.Secret), nil
}
