package collector

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Netflix/go-env"
	"github.com/jub0bs/cors"
)

// CORSMaxAgeInSeconds caches preflight responses for a day.
const CORSMaxAgeInSeconds = 86400

// Config holds the collector service's environment-derived settings.
type Config struct {
	Host              string   `env:"COLLECTOR_HOST,default=0.0.0.0"`
	Port              int      `env:"COLLECTOR_PORT,default=8090"`
	Environment       string   `env:"ENVIRONMENT,default=dev"`
	LogLevel          string   `env:"LOG_LEVEL,default=info"`
	DatabaseURL       string   `env:"DATABASE_URL"`
	AllowedOrigins    []string `env:"ALLOWED_ORIGINS,default=*"`
	MaxBatchSize      int      `env:"MAX_BATCH_SIZE,default=500"`
	MaxRequestBytes   int64    `env:"MAX_REQUEST_BYTES,default=1048576"`
	RateLimitRPS      int32    `env:"RATE_LIMIT_RPS,default=50"`
	RateLimitBurst    int32    `env:"RATE_LIMIT_BURST,default=100"`
	ReadTimeoutSecs   int      `env:"READ_TIMEOUT_SECS,default=15"`
	WriteTimeoutSecs  int      `env:"WRITE_TIMEOUT_SECS,default=15"`
	IdleTimeoutSecs   int      `env:"IDLE_TIMEOUT_SECS,default=60"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"staging": true,
	"prod":    true,
}

// NewConfig loads and validates the collector configuration from the
// environment.
func NewConfig() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid COLLECTOR_PORT: %d", cfg.Port)
	}
	if cfg.MaxBatchSize < 1 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}
	return nil
}

// CORSMiddleware builds the cross-origin policy for the log-ingestion
// endpoint. Portal SPAs post batches from their own origins.
func (cfg *Config) CORSMiddleware() (*cors.Middleware, error) {
	origins := make([]string, len(cfg.AllowedOrigins))
	for i, origin := range cfg.AllowedOrigins {
		origins[i] = strings.TrimSpace(origin)
	}

	corsConfig := cors.Config{
		Origins: origins,
		Methods: []string{
			http.MethodPost,
			http.MethodOptions,
		},
		RequestHeaders: []string{
			"Accept",
			"Content-Type",
		},
		MaxAgeInSeconds: CORSMaxAgeInSeconds,
	}

	middleware, err := cors.NewMiddleware(corsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CORS middleware: %w", err)
	}
	return middleware, nil
}
