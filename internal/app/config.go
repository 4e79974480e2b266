package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis connection URL for the shared session cache" flag:"redis-url"`
	JWTSecret   string `usage:"Access-token signing secret shared with the auth service" flag:"jwt-secret"`
	Currency    string `default:"usd" usage:"ISO currency code for checkout sessions"`
	Stripe      StripeConfig
	Outbox      OutboxConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StripeConfig configures the payment gateway client and webhook
// verification.
type StripeConfig struct {
	APIKey        string `usage:"Gateway secret API key" flag:"stripe-api-key"`
	WebhookSecret string `usage:"Gateway webhook signing secret" flag:"stripe-webhook-secret"`
	BaseURL       string `default:"https://api.stripe.com" usage:"Gateway API base URL" flag:"stripe-base-url"`
	SuccessURL    string `usage:"Redirect URL after successful payment" flag:"stripe-success-url"`
	CancelURL     string `usage:"Redirect URL after canceled payment" flag:"stripe-cancel-url"`
}

// OutboxConfig controls the side-effect task dispatcher.
type OutboxConfig struct {
	Interval    time.Duration `default:"1s" usage:"Poll interval for due tasks"`
	BatchSize   int           `default:"50" usage:"Max tasks claimed per poll" flag:"outbox-batch-size"`
	MaxAttempts int           `default:"8" usage:"Attempts before a task is parked as failed" flag:"outbox-max-attempts"`
	BaseBackoff time.Duration `default:"2s" usage:"First retry delay, doubled per attempt" flag:"outbox-base-backoff"`
}

// RateLimitConfig controls the per-client token-bucket rate limiter.
type RateLimitConfig struct {
	RPS   float64 `default:"50" usage:"Sustained requests per second per client"`
	Burst int     `default:"100" usage:"Burst size per client"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT secret is required: set CHECKOUT_JWT_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
