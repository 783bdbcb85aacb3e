package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	UploadDir      string `env:"UPLOAD_DIR" default:"./uploads"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" default:"10485760"` // 10 MiB

	SessionTTL       time.Duration `env:"SESSION_TTL" default:"24h"`
	ReaperInterval   time.Duration `env:"REAPER_INTERVAL" default:"1h"`
	ReaperBatchSize  int           `env:"REAPER_BATCH_SIZE" default:"100"`
	DispatchWorkers  int           `env:"DISPATCH_WORKERS" default:"4"`
	DispatchQueueLen int           `env:"DISPATCH_QUEUE_SIZE" default:"64"`

	RateLimitPerMinute float64 `env:"RATE_LIMIT_PER_MINUTE" default:"10"`
	CORSOrigins        string  `env:"CORS_ORIGINS" default:"http://localhost:3000"`

	TransformMode   string        `env:"TRANSFORM_MODE" default:"stub"`
	TransformURL    string        `env:"TRANSFORM_URL"`
	StubDelay       time.Duration `env:"STUB_DELAY" default:"5s"`
	StubFailureRate float64       `env:"STUB_FAILURE_RATE" default:"0.1"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AllowedOrigins splits the comma-separated CORS_ORIGINS value.
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", cfg.SessionTTL)
	}
	if cfg.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be positive, got %s", cfg.ReaperInterval)
	}
	if cfg.ReaperBatchSize < 1 {
		return fmt.Errorf("REAPER_BATCH_SIZE must be at least 1, got %d", cfg.ReaperBatchSize)
	}
	if cfg.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be at least 1, got %d", cfg.DispatchWorkers)
	}
	if cfg.DispatchQueueLen < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE must be at least 1, got %d", cfg.DispatchQueueLen)
	}
	if cfg.MaxUploadBytes < 1 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be at least 1, got %d", cfg.MaxUploadBytes)
	}

	switch cfg.TransformMode {
	case "stub":
		if cfg.StubFailureRate < 0 || cfg.StubFailureRate > 1 {
			return fmt.Errorf("STUB_FAILURE_RATE must be within [0, 1], got %g", cfg.StubFailureRate)
		}
	case "remote":
		if cfg.TransformURL == "" {
			return fmt.Errorf("TRANSFORM_URL is required when TRANSFORM_MODE is remote")
		}
	default:
		return fmt.Errorf("TRANSFORM_MODE must be stub or remote, got %q", cfg.TransformMode)
	}

	return nil
}
