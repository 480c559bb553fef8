package portalcore

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

/*
config sets up the shared settings for the portal core:
- Config: callers load it once with NewConfig() and pass it to the component constructors.
- common constants - e.g. token lifetimes, header names, storage key conventions
- common maps - used to list valid values for certain fields e.g. portal types
*/

// Environment variables with defaults
type Config struct {
	Environment      string        `env:"ENVIRONMENT,default=dev"`
	LogLevel         string        `env:"LOG_LEVEL,default=debug"`
	APIBaseURL       string        `env:"API_BASE_URL,default=http://localhost:8080"`
	CollectorURL     string        `env:"COLLECTOR_URL"`
	ExpectedIssuer   string        `env:"EXPECTED_ISSUER,default=portal-gateway"`
	ExpectedAudience string        `env:"EXPECTED_AUDIENCE,default=portal-api"`
	RefreshBuffer    time.Duration `env:"REFRESH_BUFFER,default=5m"`
	AutoRefreshPoll  time.Duration `env:"AUTO_REFRESH_POLL,default=60s"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	LogBatchSize     int           `env:"LOG_BATCH_SIZE,default=50"`
	LogFlushInterval time.Duration `env:"LOG_FLUSH_INTERVAL,default=30s"`
	LogBufferLimit   int           `env:"LOG_BUFFER_LIMIT,default=500"`
	DedupWindow      time.Duration `env:"DEDUP_WINDOW,default=60s"`
	MaxRetries       int           `env:"MAX_RETRIES,default=3"`
}

const (
	// Security & Auth constants
	AccessTokenTTL  = 15 * time.Minute   // access token client-side retention
	RefreshTokenTTL = 7 * 24 * time.Hour // refresh token client-side retention
	CSRFTokenTTL    = 24 * time.Hour     // csrf token retention (cleared on logout)
	CSRFHeaderName  = "X-CSRF-Token"     // header carried on every mutating request
	CSRFTokenBytes  = 32                 // minimum entropy for anti-forgery tokens

	// Storage key conventions.
	// Keys with the SanctionedKeyPrefix bypass the secure store's sensitive-key
	// guard: they are owned by the token manager and csrf guard exclusively.
	SanctionedKeyPrefix = "portal_"
	AccessTokenKey      = "portal_access_token"
	RefreshTokenKey     = "portal_refresh_token"
	CSRFTokenKey        = "portal_csrf_token"
	TenantContextKey    = "portal_tenant_context"
)

// common maps - used to validate enum values
var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"prod":    true,
	"staging": true,
}

var ValidPortalTypes = map[string]bool{ // portal_configs.portal_type
	"admin":    true,
	"customer": true,
	"reseller": true,
}

// AllowedSigningAlgs is the JWT signing-algorithm allow-list. Tokens tagged with
// anything else are treated as absent.
var AllowedSigningAlgs = map[string]bool{
	"RS256": true,
	"ES256": true,
	"HS256": true,
}

// NewConfig loads environment variables and returns a validated Config.
func NewConfig() (*Config, error) {
	var cfg Config

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig checks for required env variables
func validateConfig(cfg *Config) error {
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}

	if cfg.ExpectedIssuer == "" || cfg.ExpectedAudience == "" {
		return fmt.Errorf("EXPECTED_ISSUER and EXPECTED_AUDIENCE must be set")
	}

	if cfg.LogBatchSize < 1 {
		return fmt.Errorf("LOG_BATCH_SIZE must be at least 1")
	}
	if cfg.LogBufferLimit < cfg.LogBatchSize {
		return fmt.Errorf("LOG_BUFFER_LIMIT (%d) cannot be smaller than LOG_BATCH_SIZE (%d)", cfg.LogBufferLimit, cfg.LogBatchSize)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be 0 or greater")
	}

	for name, raw := range map[string]string{
		"API_BASE_URL":  cfg.APIBaseURL,
		"COLLECTOR_URL": cfg.CollectorURL,
	} {
		if raw == "" {
			continue // collector shipping is optional outside prod
		}
		u, err := url.ParseRequestURI(raw)
		if err != nil {
			return fmt.Errorf("%s is not a valid URL: %s", name, raw)
		}
		if u.Scheme == "" || u.Hostname() == "" {
			return fmt.Errorf("%s does not include a valid scheme and host: %s", name, raw)
		}
		if cfg.Environment == "prod" && u.Scheme != "https" {
			return fmt.Errorf("%s must use https in production: %s", name, raw)
		}
	}

	if cfg.Environment == "prod" && cfg.CollectorURL == "" {
		return fmt.Errorf("COLLECTOR_URL is required in %s environment", cfg.Environment)
	}

	if strings.TrimSpace(cfg.ExpectedIssuer) != cfg.ExpectedIssuer {
		return fmt.Errorf("EXPECTED_ISSUER must not contain leading or trailing whitespace")
	}

	return nil
}
