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

// MinSigningSecretLength is the shortest HS256 secret accepted in production
const MinSigningSecretLength = 32

// Billing provider names accepted by BILLING_PROVIDER
const (
	BillingProviderStripe   = "stripe"
	BillingProviderDatabase = "database"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Session       SessionConfig
	Entitlement   EntitlementConfig
	Stripe        StripeConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
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
	AllowedOrigins  []string
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

// SessionConfig holds session issuing configuration
type SessionConfig struct {
	TTL           time.Duration
	SigningSecret string
	Issuer        string
	CookieName    string
	CookieSecure  bool
}

// EntitlementConfig holds the entitlement resolver and billing provider settings
type EntitlementConfig struct {
	Provider          string // stripe or database
	FreshnessWindow   time.Duration
	CacheSize         int
	ProviderTimeout   time.Duration
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

// StripeConfig holds Stripe API credentials
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	PriceIDs      map[string]string // Stripe price ID -> plan
}

// RedisConfig holds the optional Redis connection used for session revocation
type RedisConfig struct {
	URL string
}

// Enabled returns true when a Redis URL is configured
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	stripeKey := getEnv("STRIPE_API_KEY", "")
	defaultProvider := BillingProviderDatabase
	if stripeKey != "" {
		defaultProvider = BillingProviderStripe
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
		},
		Database: loadDatabaseConfig(),
		Session: SessionConfig{
			TTL:           getEnvAsDuration("SESSION_TTL", time.Hour),
			SigningSecret: getEnv("SESSION_SIGNING_SECRET", ""),
			Issuer:        getEnv("SESSION_ISSUER", "revai-concierge"),
			CookieName:    getEnv("SESSION_COOKIE_NAME", "session"),
			CookieSecure:  getEnvAsBool("SESSION_COOKIE_SECURE", true),
		},
		Entitlement: EntitlementConfig{
			Provider:          strings.ToLower(getEnv("BILLING_PROVIDER", defaultProvider)),
			FreshnessWindow:   getEnvAsDuration("ENTITLEMENT_FRESHNESS", 5*time.Minute),
			CacheSize:         getEnvAsInt("ENTITLEMENT_CACHE_SIZE", 10000),
			ProviderTimeout:   getEnvAsDuration("BILLING_PROVIDER_TIMEOUT", 5*time.Second),
			RetryMaxAttempts:  getEnvAsInt("BILLING_RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelay: getEnvAsDuration("BILLING_RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
			RetryMaxDelay:     getEnvAsDuration("BILLING_RETRY_MAX_BACKOFF", 2*time.Second),
		},
		Stripe: StripeConfig{
			APIKey:        stripeKey,
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			PriceIDs:      loadPriceIDs(),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Requests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

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

	// Session validation
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.IsProduction() {
		if len(c.Session.SigningSecret) < MinSigningSecretLength {
			return fmt.Errorf("session signing secret must be at least %d bytes in production", MinSigningSecretLength)
		}
		if c.Stripe.APIKey != "" && c.Stripe.WebhookSecret == "" {
			return fmt.Errorf("stripe webhook secret is required in production")
		}
	}

	// Entitlement validation
	switch c.Entitlement.Provider {
	case BillingProviderStripe:
		if c.Stripe.APIKey == "" {
			return fmt.Errorf("stripe API key is required when billing provider is stripe")
		}
	case BillingProviderDatabase:
	default:
		return fmt.Errorf("unknown billing provider %q", c.Entitlement.Provider)
	}
	if c.Entitlement.FreshnessWindow <= 0 {
		return fmt.Errorf("entitlement freshness window must be positive")
	}
	if c.Entitlement.ProviderTimeout <= 0 {
		return fmt.Errorf("billing provider timeout must be positive")
	}
	if c.Entitlement.RetryMaxAttempts < 1 {
		return fmt.Errorf("billing retry max attempts must be at least 1")
	}

	// Rate limit validation
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	// Observability validation
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

// PlanForPrice maps a Stripe price ID to a plan name, or "" when unknown
func (c *StripeConfig) PlanForPrice(priceID string) string {
	return c.PriceIDs[priceID]
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
		User:            getEnv("DB_USER", "concierge"),
		Password:        getEnv("DB_PASSWORD", "concierge"),
		Database:        getEnv("DB_NAME", "concierge"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadPriceIDs builds the price -> plan table from STRIPE_PRICE_ID_* vars
func loadPriceIDs() map[string]string {
	prices := make(map[string]string)
	for _, plan := range []string{"basic", "pro", "enterprise"} {
		if id := getEnv("STRIPE_PRICE_ID_"+strings.ToUpper(plan), ""); id != "" {
			prices[id] = plan
		}
	}
	return prices
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

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
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
