// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/creditgate/creditgate/internal/model"
)

// minSecretLength is the minimum accepted JWT signing secret length in bytes.
const minSecretLength = 32

// ErrWeakSecret indicates the configured signing secret is too short.
var ErrWeakSecret = errors.New("JWT_SECRET must be at least 32 bytes")

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Record store: postgres://..., sqlite://path/to/file.db or memory://
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis). Optional: rate limiting and usage events are off without it.
	RedisURL string `env:"REDIS_URL"`

	// Token signing. The secret must survive restarts or every issued token
	// becomes invalid.
	JWTSecret string        `env:"JWT_SECRET,required,unset"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"30m"`

	// Billing
	StartingCredits int64            `env:"STARTING_CREDITS" envDefault:"100"`
	ModelPrices     map[string]int64 `env:"MODEL_PRICES" envDefault:"logreg:5,ds_tree:5,rd_forest:10" envSeparator:"," envKeyValSeparator:":"`

	// Models
	ModelDir         string        `env:"MODEL_DIR" envDefault:"./models"`
	ModelLoadTimeout time.Duration `env:"MODEL_LOAD_TIMEOUT" envDefault:"10s"`
	PredictTimeout   time.Duration `env:"PREDICT_TIMEOUT" envDefault:"5s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting (per client IP, requires Redis)
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPS     int  `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst   int  `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body limits in bytes: account forms (64KB), prediction input (1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"65536"`
	MaxPredictBodySize int64 `env:"MAX_PREDICT_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Pricing returns the validated model pricing table.
func (c *Config) Pricing() (model.Pricing, error) {
	return model.NewPricing(c.ModelPrices)
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < minSecretLength {
		return ErrWeakSecret
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.StartingCredits < 0 {
		return fmt.Errorf("STARTING_CREDITS must not be negative, got %d", c.StartingCredits)
	}
	if c.PredictTimeout <= 0 || c.ModelLoadTimeout <= 0 {
		return errors.New("PREDICT_TIMEOUT and MODEL_LOAD_TIMEOUT must be positive")
	}
	if _, err := c.Pricing(); err != nil {
		return fmt.Errorf("invalid MODEL_PRICES: %w", err)
	}
	return nil
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
