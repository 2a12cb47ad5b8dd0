package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr              string        `envconfig:"APP_ADDR" default:":8080"`
	Environment       string        `envconfig:"APP_ENV" default:"development"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat         string        `envconfig:"LOG_FORMAT" default:"json"`
	DatabaseURL       string        `envconfig:"DATABASE_URL"`
	JWTSecret         string        `envconfig:"JWT_SECRET"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"12h"`
	RedisURL          string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	DraftTTL          time.Duration `envconfig:"DRAFT_TTL" default:"168h"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"10s"`
	IdleAfter         time.Duration `envconfig:"IDLE_AFTER" default:"2m"`
	BackendTimeout    time.Duration `envconfig:"BACKEND_TIMEOUT" default:"10s"`
	RunMigrations     bool          `envconfig:"RUN_MIGRATIONS" default:"true"`
	RunSeed           bool          `envconfig:"RUN_SEED" default:"true"`
	SeedAdminEmail    string        `envconfig:"SEED_ADMIN_EMAIL"`
	SeedAdminPassword string        `envconfig:"SEED_ADMIN_PASSWORD"`
	SeedRoster        bool          `envconfig:"SEED_ROSTER" default:"false"`
	FallbackRoster    bool          `envconfig:"FALLBACK_ROSTER" default:"true"`
	MetricsEnabled    bool          `envconfig:"METRICS_ENABLED" default:"true"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"8388608"`
	RateLimitPerMin   int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	ReportsDir        string        `envconfig:"REPORTS_DIR" default:"storage/reports"`
	ReportsKey        string        `envconfig:"REPORTS_ENCRYPTION_KEY"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func (c Config) IsProd() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.IsProd() {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.RunSeed && strings.TrimSpace(c.SeedAdminPassword) == "" {
			return fmt.Errorf("SEED_ADMIN_PASSWORD must be set or RUN_SEED disabled in production")
		}
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1s")
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}
