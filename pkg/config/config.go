package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Sink modes for processed pipeline results
const (
	SinkModeAPI             = "api"
	SinkModeAPIWithFallback = "api_with_fallback"
	SinkModeDual            = "dual"
	SinkModeFile            = "file"
)

// Config holds the application configuration
type Config struct {
	Server         ServerConfig         `json:"server"`
	GitLab         GitLabConfig         `json:"gitlab"`
	Jenkins        JenkinsConfig        `json:"jenkins"`
	Delivery       DeliveryConfig       `json:"delivery"`
	Auth           AuthConfig           `json:"auth"`
	Filters        FilterConfig         `json:"filters"`
	Extraction     ExtractionConfig     `json:"extraction"`
	Retry          RetryConfig          `json:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Worker         WorkerConfig         `json:"worker"`
	Storage        StorageConfig        `json:"storage"`
	Redis          RedisConfig          `json:"redis"`
	Database       DatabaseConfig       `json:"database"`
	Logging        LoggingConfig        `json:"logging"`
	Metrics        MetricsConfig        `json:"metrics"`
	Tracing        TracingConfig        `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	CORSOrigins     []string      `json:"cors_origins"`
}

// GitLabConfig contains GitLab API and webhook configuration
type GitLabConfig struct {
	URL           string        `json:"url"`
	Token         string        `json:"-"`
	WebhookSecret string        `json:"-"`
	Timeout       time.Duration `json:"timeout"`
}

// JenkinsConfig contains Jenkins API and webhook configuration
type JenkinsConfig struct {
	Enabled       bool          `json:"enabled"`
	URL           string        `json:"url"`
	User          string        `json:"user"`
	APIToken      string        `json:"-"`
	WebhookSecret string        `json:"-"`
	Timeout       time.Duration `json:"timeout"`
}

// DeliveryConfig controls where processed results are sent
type DeliveryConfig struct {
	SinkMode string        `json:"sink_mode"`
	APIURL   string        `json:"api_url"`
	Timeout  time.Duration `json:"timeout"`
}

// AuthConfig configures the authentication chain used for the analysis API
type AuthConfig struct {
	SigningKey    string        `json:"-"`
	Issuer        string        `json:"issuer"`
	Subject       string        `json:"subject"`
	AuthHost      string        `json:"auth_host"`
	Secret        string        `json:"-"`
	TokenTTL      time.Duration `json:"token_ttl"`
	RefreshMargin time.Duration `json:"refresh_margin"`
}

// FilterConfig decides which events and jobs are processed
type FilterConfig struct {
	PipelineStatuses []string `json:"pipeline_statuses"`
	JobStatuses      []string `json:"job_statuses"`
	AllowProjects    []string `json:"allow_projects"`
	DenyProjects     []string `json:"deny_projects"`
	SaveSkipped      bool     `json:"save_skipped"`
}

// ExtractionConfig configures error context extraction
type ExtractionConfig struct {
	LinesBefore    int      `json:"lines_before"`
	LinesAfter     int      `json:"lines_after"`
	MaxLineLength  int      `json:"max_line_length"`
	IgnorePatterns []string `json:"ignore_patterns"`
}

// RetryConfig configures retries of outbound calls
type RetryConfig struct {
	MaxRetries  int           `json:"max_retries"`
	BaseDelay   time.Duration `json:"base_delay"`
	Exponential bool          `json:"exponential"`
}

// CircuitBreakerConfig configures the breaker of each remote dependency
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// WorkerConfig sizes the background worker pool
type WorkerConfig struct {
	Workers    int           `json:"workers"`
	QueueSize  int           `json:"queue_size"`
	JobTimeout time.Duration `json:"job_timeout"`
}

// StorageConfig contains file sink configuration
type StorageConfig struct {
	OutputDir string `json:"output_dir"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"-"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig contains statistics database configuration
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"-"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains Prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Environment    string  `json:"environment"`
}

// Load loads configuration from an optional .env file and environment variables
func Load() (*Config, error) {
	// a missing .env file is fine, the environment may carry everything
	_ = godotenv.Load(getEnvString("ENV_FILE", ".env"))

	config := FromEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// FromEnv builds the configuration from environment variables with sensible defaults
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8000),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
		},
		GitLab: GitLabConfig{
			URL:           strings.TrimRight(getEnvString("GITLAB_URL", ""), "/"),
			Token:         getEnvString("GITLAB_TOKEN", ""),
			WebhookSecret: getEnvString("WEBHOOK_SECRET", ""),
			Timeout:       getEnvDuration("GITLAB_TIMEOUT", 30*time.Second),
		},
		Jenkins: JenkinsConfig{
			Enabled:       getEnvBool("JENKINS_ENABLED", false),
			URL:           strings.TrimRight(getEnvString("JENKINS_URL", ""), "/"),
			User:          getEnvString("JENKINS_USER", ""),
			APIToken:      getEnvString("JENKINS_API_TOKEN", ""),
			WebhookSecret: getEnvString("JENKINS_WEBHOOK_SECRET", ""),
			Timeout:       getEnvDuration("JENKINS_TIMEOUT", 30*time.Second),
		},
		Delivery: DeliveryConfig{
			SinkMode: getEnvString("SINK_MODE", SinkModeFile),
			APIURL:   getEnvString("API_POST_URL", ""),
			Timeout:  getEnvDuration("API_POST_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			SigningKey:    getEnvString("JWT_SIGNING_KEY", ""),
			Issuer:        getEnvString("JWT_ISSUER", "log-extractor"),
			Subject:       getEnvString("AUTH_SUBJECT", "log-extractor"),
			AuthHost:      strings.TrimRight(getEnvString("AUTH_HOST", ""), "/"),
			Secret:        getEnvString("API_POST_AUTH_TOKEN", ""),
			TokenTTL:      getEnvDuration("AUTH_TOKEN_TTL", time.Hour),
			RefreshMargin: getEnvDuration("AUTH_REFRESH_MARGIN", 5*time.Minute),
		},
		Filters: FilterConfig{
			PipelineStatuses: getEnvList("LOG_SAVE_PIPELINE_STATUS", []string{"all"}),
			JobStatuses:      getEnvList("LOG_SAVE_JOB_STATUS", []string{"all"}),
			AllowProjects:    getEnvList("LOG_SAVE_PROJECTS", nil),
			DenyProjects:     getEnvList("LOG_EXCLUDE_PROJECTS", nil),
			SaveSkipped:      getEnvBool("LOG_SAVE_METADATA_ALWAYS", false),
		},
		Extraction: ExtractionConfig{
			LinesBefore:    getEnvInt("ERROR_CONTEXT_LINES_BEFORE", 50),
			LinesAfter:     getEnvInt("ERROR_CONTEXT_LINES_AFTER", 10),
			MaxLineLength:  getEnvInt("ERROR_CONTEXT_MAX_LINE_LENGTH", 1000),
			IgnorePatterns: getEnvList("ERROR_IGNORE_PATTERNS", nil),
		},
		Retry: RetryConfig{
			MaxRetries:  getEnvInt("RETRY_ATTEMPTS", 3),
			BaseDelay:   getEnvDuration("RETRY_DELAY", 2*time.Second),
			Exponential: getEnvBool("RETRY_EXPONENTIAL", true),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: getEnvInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			RecoveryTimeout:  getEnvDuration("CIRCUIT_BREAKER_TIMEOUT", 60*time.Second),
		},
		Worker: WorkerConfig{
			Workers:    getEnvInt("WORKER_COUNT", 4),
			QueueSize:  getEnvInt("WORKER_QUEUE_SIZE", 100),
			JobTimeout: getEnvDuration("WORKER_JOB_TIMEOUT", 10*time.Minute),
		},
		Storage: StorageConfig{
			OutputDir: getEnvString("LOG_OUTPUT_DIR", "./logs"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Database: DatabaseConfig{
			Enabled:         getEnvBool("DB_ENABLED", false),
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "log_extractor"),
			User:            getEnvString("DB_USER", "log_extractor"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "log_extractor"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
			Environment:    getEnvString("ENVIRONMENT", "development"),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GitLab.URL == "" && !c.Jenkins.Enabled {
		return fmt.Errorf("GITLAB_URL is required unless Jenkins is enabled")
	}

	if c.GitLab.URL != "" && c.GitLab.Token == "" {
		return fmt.Errorf("GITLAB_TOKEN is required when GITLAB_URL is set")
	}

	if c.Jenkins.Enabled && c.Jenkins.URL == "" {
		return fmt.Errorf("JENKINS_URL is required when Jenkins is enabled")
	}

	switch c.Delivery.SinkMode {
	case SinkModeFile:
	case SinkModeAPI, SinkModeAPIWithFallback, SinkModeDual:
		if c.Delivery.APIURL == "" {
			return fmt.Errorf("API_POST_URL is required for sink mode %q", c.Delivery.SinkMode)
		}
	default:
		return fmt.Errorf("invalid sink mode %q", c.Delivery.SinkMode)
	}

	if c.Extraction.LinesBefore < 0 || c.Extraction.LinesAfter < 0 {
		return fmt.Errorf("error context line counts must not be negative")
	}

	if c.Extraction.MaxLineLength <= 0 {
		return fmt.Errorf("ERROR_CONTEXT_MAX_LINE_LENGTH must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_ATTEMPTS must not be negative")
	}

	if c.Auth.RefreshMargin >= c.Auth.TokenTTL {
		return fmt.Errorf("AUTH_REFRESH_MARGIN must be shorter than AUTH_TOKEN_TTL")
	}

	if c.Worker.Workers <= 0 || c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker count and queue size must be positive")
	}

	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("database password is required when the statistics database is enabled")
	}

	return nil
}

// UsesAPI reports whether the sink mode sends results to the analysis API
func (d DeliveryConfig) UsesAPI() bool {
	return d.SinkMode != SinkModeFile
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return c.Redis.Addr()
}

// Addr returns the host:port address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") and bare integers taken as seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
