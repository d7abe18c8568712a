package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	EventsTotal             *prometheus.CounterVec
	EventProcessingDuration *prometheus.HistogramVec
	JobFetchTotal           *prometheus.CounterVec

	// Delivery metrics
	DeliveryAttemptsTotal *prometheus.CounterVec
	DeliveryDuration      *prometheus.HistogramVec

	// Resilience metrics
	CircuitBreakerState *prometheus.GaugeVec
	RetriesTotal        *prometheus.CounterVec

	// Worker pool metrics
	QueueDepth  prometheus.Gauge
	PanicsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "log_extractor",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates all metrics and registers them on a dedicated registry.
// A disabled configuration yields a Metrics whose recorders are no-ops.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "events_total",
				Help:      "Pipeline events by provider and terminal status",
			},
			[]string{"provider", "status"},
		),
		EventProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "event_processing_duration_seconds",
				Help:      "Time from dequeue to terminal status of a pipeline event",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),
		JobFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "job_fetch_total",
				Help:      "Job log fetches by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		DeliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "delivery_attempts_total",
				Help:      "Delivery attempts by sink and outcome",
			},
			[]string{"sink", "outcome"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "delivery_duration_seconds",
				Help:      "Delivery attempt duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"name"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retries_total",
				Help:      "Retried outbound calls by dependency",
			},
			[]string{"dependency"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "queue_depth",
				Help:      "Events waiting for a worker",
			},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Recovered panics by component",
			},
			[]string{"component"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsTotal,
		m.EventProcessingDuration,
		m.JobFetchTotal,
		m.DeliveryAttemptsTotal,
		m.DeliveryDuration,
		m.CircuitBreakerState,
		m.RetriesTotal,
		m.QueueDepth,
		m.PanicsTotal,
	)

	return m
}

// Registry exposes the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordEvent records the terminal status of a pipeline event
func (m *Metrics) RecordEvent(provider, status string, duration time.Duration) {
	if m == nil || m.EventsTotal == nil {
		return
	}

	m.EventsTotal.WithLabelValues(provider, status).Inc()
	m.EventProcessingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordJobFetch records the outcome of a single job log fetch
func (m *Metrics) RecordJobFetch(provider, outcome string) {
	if m == nil || m.JobFetchTotal == nil {
		return
	}

	m.JobFetchTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordDelivery records a delivery attempt
func (m *Metrics) RecordDelivery(sink, outcome string, duration time.Duration) {
	if m == nil || m.DeliveryAttemptsTotal == nil {
		return
	}

	m.DeliveryAttemptsTotal.WithLabelValues(sink, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

// SetCircuitState publishes the numeric state of a named breaker
func (m *Metrics) SetCircuitState(name string, state int) {
	if m == nil || m.CircuitBreakerState == nil {
		return
	}

	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRetry counts a retried call to a dependency
func (m *Metrics) RecordRetry(dependency string) {
	if m == nil || m.RetriesTotal == nil {
		return
	}

	m.RetriesTotal.WithLabelValues(dependency).Inc()
}

// SetQueueDepth updates the number of queued events
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil || m.QueueDepth == nil {
		return
	}

	m.QueueDepth.Set(float64(depth))
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m == nil || m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
