package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Scheduler     SchedulerConfig
	Orchestrator  OrchestratorConfig
	Retry         RetryConfig
	Safety        SafetyConfig
	Gateway       GatewayConfig
	Observability ObservabilityConfig
	Policy        *Policy
	Environment   string
}

// ServerConfig holds operator HTTP API configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	StatusCacheTTL  time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds operator API authentication configuration
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Disabled  bool // development only
}

// SchedulerConfig holds Tick Scheduler configuration
type SchedulerConfig struct {
	HolderID          string
	LeaseName         string
	TickInterval      time.Duration
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	BatchSize         int
}

// OrchestratorConfig holds Campaign Orchestrator configuration
type OrchestratorConfig struct {
	Enabled           bool
	Interval          time.Duration
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	LeadBatchSize     int
	Concurrency       int
	JobMaxRetries     int
}

// RetryConfig holds the default action retry policy
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// SafetyConfig holds the Safety-Limit Gate and egress lock settings
type SafetyConfig struct {
	DefaultDailyLimit int
	EgressLock        bool
}

// GatewayConfig holds the outbound send webhook configuration
type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	ServiceName       string
	LogLevel          string
	LogFormat         string // json or console
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			StatusCacheTTL:  getEnvAsDuration("STATUS_CACHE_TTL", 2*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			JWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),
			Issuer:    getEnv("OPERATOR_JWT_ISSUER", "aol"),
			Disabled:  getEnvAsBool("OPERATOR_AUTH_DISABLED", false),
		},
		Scheduler: SchedulerConfig{
			HolderID:          getEnv("AOL_HOLDER_ID", defaultHolderID()),
			LeaseName:         getEnv("AOL_LEASE_NAME", "aol-tick"),
			TickInterval:      getEnvAsDuration("AOL_TICK_INTERVAL", 30*time.Second),
			LeaseTTL:          getEnvAsDuration("AOL_LEASE_TTL", 90*time.Second),
			HeartbeatInterval: getEnvAsDuration("AOL_HEARTBEAT_INTERVAL", 20*time.Second),
			BatchSize:         getEnvAsInt("AOL_BATCH_SIZE", 25),
		},
		Orchestrator: OrchestratorConfig{
			Enabled:           getEnvAsBool("ORCHESTRATOR_ENABLED", true),
			Interval:          getEnvAsDuration("ORCHESTRATOR_INTERVAL", time.Minute),
			LeaseTTL:          getEnvAsDuration("ORCHESTRATOR_LEASE_TTL", 2*time.Minute),
			HeartbeatInterval: getEnvAsDuration("ORCHESTRATOR_HEARTBEAT_INTERVAL", 30*time.Second),
			LeadBatchSize:     getEnvAsInt("ORCHESTRATOR_LEAD_BATCH_SIZE", 200),
			Concurrency:       getEnvAsInt("ORCHESTRATOR_CONCURRENCY", 4),
			JobMaxRetries:     getEnvAsInt("ORCHESTRATOR_JOB_MAX_RETRIES", 3),
		},
		Retry: RetryConfig{
			BaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", 30*time.Second),
			MaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", time.Hour),
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
		},
		Safety: SafetyConfig{
			DefaultDailyLimit: getEnvAsInt("SAFETY_DEFAULT_DAILY_LIMIT", 0),
			EgressLock:        getEnvAsBool("EGRESS_LOCK", true),
		},
		Gateway: GatewayConfig{
			BaseURL:    getEnv("SEND_GATEWAY_URL", ""),
			APIKey:     getEnv("SEND_GATEWAY_API_KEY", ""),
			Timeout:    getEnvAsDuration("SEND_GATEWAY_TIMEOUT", 15*time.Second),
			MaxRetries: getEnvAsInt("SEND_GATEWAY_MAX_RETRIES", 2),
		},
		Observability: ObservabilityConfig{
			ServiceName:       getEnv("SERVICE_NAME", "autonomy-orchestrator"),
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("TRACING_ENDPOINT", ""),
			TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	policy, err := LoadPolicy(getEnv("AOL_POLICY_FILE", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to load policy file: %w", err)
	}
	cfg.Policy = policy

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	// Scheduler validation
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler batch size must be positive")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive")
	}
	// idle ticks only renew the lease once per tick
	if c.Scheduler.LeaseTTL <= c.Scheduler.TickInterval+c.Scheduler.HeartbeatInterval {
		return fmt.Errorf("scheduler lease TTL (%s) must exceed tick interval (%s) plus heartbeat interval (%s)",
			c.Scheduler.LeaseTTL, c.Scheduler.TickInterval, c.Scheduler.HeartbeatInterval)
	}
	if c.Scheduler.HolderID == "" {
		return fmt.Errorf("scheduler holder id is required")
	}

	// Orchestrator validation
	if c.Orchestrator.Enabled {
		// renewals happen between leads, so one lead's work must fit in the slack
		if c.Orchestrator.LeaseTTL < 2*c.Orchestrator.HeartbeatInterval {
			return fmt.Errorf("orchestrator lease TTL (%s) must be at least twice the heartbeat interval (%s)",
				c.Orchestrator.LeaseTTL, c.Orchestrator.HeartbeatInterval)
		}
		if c.Orchestrator.Concurrency <= 0 {
			return fmt.Errorf("orchestrator concurrency must be positive")
		}
		if c.Orchestrator.JobMaxRetries < 0 || c.Orchestrator.JobMaxRetries > 99 {
			return fmt.Errorf("orchestrator job max retries must be between 0 and 99")
		}
	}

	// Retry validation
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max delay must not be below base delay")
	}

	// Operator auth is mandatory in production
	if c.IsProduction() {
		if c.Auth.Disabled {
			return fmt.Errorf("operator auth cannot be disabled in production")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("operator JWT secret is required in production")
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	if c.Policy != nil {
		if err := c.Policy.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "aol"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "aol"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// defaultHolderID identifies this process in leases and the tick ledger
func defaultHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "aol"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
