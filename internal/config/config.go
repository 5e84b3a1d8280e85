package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gateway configuration: a config.yaml is read first,
// then individual fields are overridden from environment variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	RoutesPath string `yaml:"routes_path"`

	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`

	JWTSecretKey string `yaml:"jwt_secret_key"`
	JWTAlgorithm string `yaml:"jwt_algorithm"`

	CacheTTLSeconds           int `yaml:"cache_ttl_seconds"`
	RequestTimeoutSeconds     int `yaml:"request_timeout_seconds"`
	RetryCount                int `yaml:"retry_count"`
	RetryBackoffMilliseconds  int `yaml:"retry_backoff_ms"`
	CircuitResetTimeoutSecond int `yaml:"circuit_reset_timeout_seconds"`

	RateLimit          string   `yaml:"rate_limit"`
	AllowedHosts       []string `yaml:"allowed_hosts"`
	CacheEncryptionKey string   `yaml:"cache_encryption_key"`

	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// CacheTTL, RequestTimeout, RetryBackoff and CircuitResetTimeout return
// their respective fields as time.Duration for callers wiring the
// upstream client and cache.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSeconds) * time.Second }
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMilliseconds) * time.Millisecond
}
func (c *Config) CircuitResetTimeout() time.Duration {
	return time.Duration(c.CircuitResetTimeoutSecond) * time.Second
}

// Load reads configuration from GATEWAY_CONFIG_PATH (default config.yaml,
// tolerating a missing file) and overrides with environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:                ":8000",
		RoutesPath:                "routes.yml",
		RedisPort:                 6379,
		JWTAlgorithm:              "HS256",
		CacheTTLSeconds:           60,
		RequestTimeoutSeconds:     30,
		RetryCount:                3,
		RetryBackoffMilliseconds:  500,
		CircuitResetTimeoutSecond: 30,
		RateLimit:                 "10/minute",
		AllowedHosts:              []string{"*"},
		LogFormat:                 "json",
		MetricsEnabled:            true,
	}

	configPath := os.Getenv("GATEWAY_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	overrideFromEnv(cfg)
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GATEWAY_ROUTES_PATH"); v != "" {
		cfg.RoutesPath = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisPort = n
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.JWTSecretKey = v
	}
	if v := os.Getenv("JWT_ALGORITHM"); v != "" {
		cfg.JWTAlgorithm = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTLSeconds = n
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeoutSeconds = n
		}
	}
	if v := os.Getenv("RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryCount = n
		}
	}
	if v := os.Getenv("RETRY_BACKOFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RetryBackoffMilliseconds = int(f * 1000)
		}
	}
	if v := os.Getenv("CIRCUIT_RESET_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CircuitResetTimeoutSecond = n
		}
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		cfg.RateLimit = v
	}
	if v := os.Getenv("ALLOWED_HOSTS"); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		cfg.AllowedHosts = hosts
	}
	if v := os.Getenv("CACHE_ENCRYPTION_KEY"); v != "" {
		cfg.CacheEncryptionKey = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = v == "true" || v == "1"
	}
}
