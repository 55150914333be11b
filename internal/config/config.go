package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port   string
	AppEnv string

	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	SigningKey string
	APIKey     string

	GatewayBaseURL      string
	GatewayName         string
	GatewayTimeout      time.Duration
	GatewayRetryBackoff time.Duration
	GatewayFallbackURL  string
	DefaultTrusteeID    string

	StrictOrdering          bool
	VerifyCallbackSignature bool

	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration
	ReconcileBatch      int
	ReconcileRPS        float64

	RedisURL       string
	StatusCacheTTL time.Duration

	CORSOrigins []string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "development"),

		DBHost:     os.Getenv("BLUEPRINT_DB_HOST"),
		DBPort:     getEnv("BLUEPRINT_DB_PORT", "5432"),
		DBName:     os.Getenv("BLUEPRINT_DB_DATABASE"),
		DBUser:     os.Getenv("BLUEPRINT_DB_USERNAME"),
		DBPassword: os.Getenv("BLUEPRINT_DB_PASSWORD"),
		DBSchema:   getEnv("BLUEPRINT_DB_SCHEMA", "public"),

		SigningKey: os.Getenv("PG_KEY"),
		APIKey:     os.Getenv("API_KEY"),

		GatewayBaseURL:      strings.TrimRight(getEnv("GATEWAY_BASE_URL", "https://dev-vanilla.edviron.com/erp"), "/"),
		GatewayName:         getEnv("GATEWAY_NAME", "edviron"),
		GatewayTimeout:      p.duration("GATEWAY_TIMEOUT", 5*time.Second),
		GatewayRetryBackoff: p.duration("GATEWAY_RETRY_BACKOFF", 200*time.Millisecond),
		GatewayFallbackURL:  getEnv("GATEWAY_FALLBACK_URL", "https://example.com/payment-fallback"),
		DefaultTrusteeID:    getEnv("DEFAULT_TRUSTEE_ID", "default-trustee"),

		StrictOrdering:          p.boolean("STRICT_ORDERING", false),
		VerifyCallbackSignature: p.boolean("VERIFY_CALLBACK_SIGNATURE", false),

		ReconcileInterval:   p.duration("RECONCILE_INTERVAL", 0),
		ReconcileStaleAfter: p.duration("RECONCILE_STALE_AFTER", time.Minute),
		ReconcileBatch:      p.integer("RECONCILE_BATCH", 50),
		ReconcileRPS:        p.float("RECONCILE_RPS", 5),

		RedisURL:       os.Getenv("REDIS_URL"),
		StatusCacheTTL: p.duration("STATUS_CACHE_TTL", 10*time.Second),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
	}

	if p.err != nil {
		return nil, p.err
	}
	if cfg.SigningKey == "" {
		return nil, errors.New("missing required environment variable PG_KEY")
	}
	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", cfg.GatewayTimeout)
	}
	return cfg, nil
}

// DSN is the Postgres connection string for the pgx stdlib driver.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSchema,
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, val, err)
	}
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.fail(key, val, err)
		return fallback
	}
	return d
}

func (p *parser) boolean(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		p.fail(key, val, err)
		return fallback
	}
	return b
}

func (p *parser) integer(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		p.fail(key, val, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		p.fail(key, val, err)
		return fallback
	}
	return f
}
