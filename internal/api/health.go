package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/queue"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/resilience"
)

// Pinger is implemented by optional backing stores (Redis, PostgreSQL)
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	pool     PoolStats
	breakers []*resilience.CircuitBreaker
	checks   map[string]Pinger
	version  string
}

// PoolStats exposes worker pool statistics
type PoolStats interface {
	GetStats() queue.WorkerPoolStats
}

// NewHealthHandler creates a new health handler. checks may be nil.
func NewHealthHandler(pool PoolStats, breakers []*resilience.CircuitBreaker, checks map[string]Pinger, version string) *HealthHandler {
	return &HealthHandler{
		pool:     pool,
		breakers: breakers,
		checks:   checks,
		version:  version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Workers   *queue.WorkerPoolStats `json:"workers,omitempty"`
	Breakers  []resilience.Snapshot  `json:"circuit_breakers"`
	Checks    map[string]HealthCheck `json:"checks,omitempty"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency,omitempty"`
}

// Handle reports the pool, breaker and backing store health. An open breaker
// degrades the service but does not make it unhealthy; a stopped pool or a
// failing store does.
func (h *HealthHandler) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Breakers:  make([]resilience.Snapshot, 0, len(h.breakers)),
		Checks:    make(map[string]HealthCheck),
	}

	if h.pool != nil {
		stats := h.pool.GetStats()
		response.Workers = &stats
		if !stats.Running {
			response.Status = "unhealthy"
		}
	}

	for _, cb := range h.breakers {
		snapshot := cb.Snapshot()
		response.Breakers = append(response.Breakers, snapshot)
		if snapshot.State != resilience.StateClosed.String() && response.Status == "healthy" {
			response.Status = "degraded"
		}
	}

	for name, check := range h.checks {
		start := time.Now()
		err := check.Health(ctx)
		result := HealthCheck{Status: "healthy", Latency: time.Since(start)}
		if err != nil {
			result.Status = "unhealthy"
			result.Message = err.Error()
			response.Status = "unhealthy"
		}
		response.Checks[name] = result
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}
