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
	Session       SessionConfig
	Webhooks      WebhookConfig
	Audit         AuditConfig
	Expenses      ExpenseConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnectTimeout   time.Duration
	InitSchema       bool
}

// SessionConfig holds session token settings
type SessionConfig struct {
	Secret     string
	Issuer     string
	TTL        time.Duration
	CookieName string
}

// WebhookConfig holds the outbox dispatcher and HTTP sender settings
type WebhookConfig struct {
	WorkerCount          int
	BatchSize            int
	PollInterval         time.Duration
	LeaseDuration        time.Duration
	RequestTimeout       time.Duration
	UserAgent            string
	AutoDisableThreshold int
	ResponseBodyLimit    int
}

// AuditConfig holds audit export settings
type AuditConfig struct {
	ExportMaxRows int
}

// ExpenseConfig holds expense workflow defaults
type ExpenseConfig struct {
	DefaultCurrency string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
	MetricsPort    int

	// DispatcherMetricsPort is where the webhook dispatcher serves /metrics
	DispatcherMetricsPort int
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
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: loadDatabaseConfig(),
		Session: SessionConfig{
			Secret:     getEnv("SESSION_SECRET", ""),
			Issuer:     getEnv("SESSION_ISSUER", "staffing-erp"),
			TTL:        getEnvAsDuration("SESSION_TTL", 8*time.Hour),
			CookieName: getEnv("SESSION_COOKIE_NAME", "session"),
		},
		Webhooks: WebhookConfig{
			WorkerCount:          getEnvAsInt("WEBHOOK_WORKER_COUNT", 4),
			BatchSize:            getEnvAsInt("WEBHOOK_BATCH_SIZE", 50),
			PollInterval:         getEnvAsDuration("WEBHOOK_POLL_INTERVAL", 2*time.Second),
			LeaseDuration:        getEnvAsDuration("WEBHOOK_LEASE_DURATION", 2*time.Minute),
			RequestTimeout:       getEnvAsDuration("WEBHOOK_REQUEST_TIMEOUT", 15*time.Second),
			UserAgent:            getEnv("WEBHOOK_USER_AGENT", "staffing-erp-webhooks/1.0"),
			AutoDisableThreshold: getEnvAsInt("WEBHOOK_AUTO_DISABLE_THRESHOLD", 0),
			ResponseBodyLimit:    getEnvAsInt("WEBHOOK_RESPONSE_BODY_LIMIT", 4096),
		},
		Audit: AuditConfig{
			ExportMaxRows: getEnvAsInt("AUDIT_EXPORT_MAX_ROWS", 100000),
		},
		Expenses: ExpenseConfig{
			DefaultCurrency: strings.ToUpper(getEnv("EXPENSE_DEFAULT_CURRENCY", "USD")),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled:        getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:           getEnvAsInt("METRICS_PORT", 9090),
			DispatcherMetricsPort: getEnvAsInt("DISPATCHER_METRICS_PORT", 9091),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
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

	if c.IsProduction() && len(c.Session.Secret) < 32 {
		return fmt.Errorf("session secret of at least 32 bytes is required in production")
	}

	if c.Webhooks.WorkerCount <= 0 {
		return fmt.Errorf("webhook worker count must be positive")
	}
	if c.Webhooks.BatchSize <= 0 {
		return fmt.Errorf("webhook batch size must be positive")
	}
	if c.Webhooks.AutoDisableThreshold < 0 {
		return fmt.Errorf("webhook auto-disable threshold cannot be negative")
	}

	if c.Audit.ExportMaxRows <= 0 || c.Audit.ExportMaxRows > 100000 {
		return fmt.Errorf("audit export max rows must be between 1 and 100000")
	}

	if len(c.Expenses.DefaultCurrency) != 3 {
		return fmt.Errorf("expense default currency must be a 3-letter ISO code")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
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
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		ConnectionString: getEnv("DATABASE_URL", ""),
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnectTimeout:   getEnvAsDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
		InitSchema:       getEnvAsBool("DB_INIT_SCHEMA", false),
	}
	if cfg.ConnectionString != "" {
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "erp")
	cfg.Password = getEnv("DB_PASSWORD", "erp_password")
	cfg.Database = getEnv("DB_NAME", "erp")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddress returns the listen address of the metrics endpoint
func (c *ObservabilityConfig) MetricsAddress() string {
	return fmt.Sprintf(":%d", c.MetricsPort)
}

// DispatcherMetricsAddress returns the listen address of the dispatcher's metrics endpoint
func (c *ObservabilityConfig) DispatcherMetricsAddress() string {
	return fmt.Sprintf(":%d", c.DispatcherMetricsPort)
}

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
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

// getEnvAsList splits a comma-separated value, dropping empty entries
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
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
