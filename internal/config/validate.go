package config

import (
	"errors"
	"strings"

	"github.com/nullbridge/gateway/internal/ratelimit"
)

// Validate checks the config for invalid or missing values and returns a
// single multi-error listing every problem found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.ListenAddr == "" {
		errs = append(errs, "listen_addr is required")
	}
	if cfg.RoutesPath == "" {
		errs = append(errs, "routes_path is required")
	}
	if cfg.JWTSecretKey == "" {
		errs = append(errs, "jwt_secret_key is required")
	}
	if cfg.CacheEncryptionKey != "" && len(cfg.CacheEncryptionKey) < 16 {
		errs = append(errs, "cache_encryption_key must be at least 16 characters")
	}
	if cfg.CacheTTLSeconds < 0 {
		errs = append(errs, "cache_ttl_seconds must be >= 0")
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		errs = append(errs, "request_timeout_seconds must be > 0")
	}
	if cfg.RetryCount < 0 {
		errs = append(errs, "retry_count must be >= 0")
	}
	if cfg.RetryBackoffMilliseconds < 0 {
		errs = append(errs, "retry_backoff_ms must be >= 0")
	}
	if cfg.CircuitResetTimeoutSecond <= 0 {
		errs = append(errs, "circuit_reset_timeout_seconds must be > 0")
	}
	if cfg.RateLimit == "" {
		errs = append(errs, "rate_limit is required")
	} else if _, _, err := ratelimit.ParseRate(cfg.RateLimit); err != nil {
		errs = append(errs, "rate_limit: "+err.Error())
	}

	if len(errs) > 0 {
		return errors.New("config validation failed: " + strings.Join(errs, "; "))
	}
	return nil
}
