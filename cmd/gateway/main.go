package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nullbridge/gateway/internal/auth"
	"github.com/nullbridge/gateway/internal/cache"
	"github.com/nullbridge/gateway/internal/config"
	"github.com/nullbridge/gateway/internal/gateway"
	"github.com/nullbridge/gateway/internal/metrics"
	"github.com/nullbridge/gateway/internal/ratelimit"
	"github.com/nullbridge/gateway/internal/routetable"
	"github.com/nullbridge/gateway/internal/security"
	"github.com/nullbridge/gateway/internal/server"
	"github.com/nullbridge/gateway/internal/slogger"
	"github.com/nullbridge/gateway/internal/upstream"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Validate config
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	// 3. Setup structured logging
	logger := slogger.Setup(cfg.LogFormat)

	// 4. Load the route table
	routes, err := routetable.Load(cfg.RoutesPath)
	if err != nil {
		log.Fatalf("failed to load routes from %s: %v", cfg.RoutesPath, err)
	}

	// 5. Connect to Redis (the cache's remote tier)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr(cfg),
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	// 6. Derive an optional cache-at-rest sealer
	var sealer cache.Sealer
	if cfg.CacheEncryptionKey != "" {
		sealer = security.NewKeySealer(cfg.CacheEncryptionKey)
	}

	// 7. Initialize the two-tier response cache
	respCache := cache.New(redisClient, cache.Opts{
		RemoteTTL: cfg.CacheTTL(),
		Sealer:    sealer,
		Logger:    logger,
	})

	// 8. Initialize the pooled upstream client with retry/breaker options
	upstreamClient := upstream.New(upstream.Opts{
		Timeout:         cfg.RequestTimeout(),
		Retries:         cfg.RetryCount,
		Backoff:         cfg.RetryBackoff(),
		BreakerBaseline: cfg.CircuitResetTimeout(),
	})

	// 9. Initialize the JWT bearer-token validator
	validator := auth.NewValidator([]byte(cfg.JWTSecretKey), cfg.JWTAlgorithm)

	// 10. Initialize metrics (if enabled)
	var m *metrics.Metrics
	var metricsMiddleware func(http.Handler) http.Handler
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		m = metrics.New()
		metricsMiddleware = metrics.Middleware(m)
		metricsHandler = m.Handler()
	}

	// 11. Initialize the per-client-IP rate limiter
	rps, burst, err := ratelimit.ParseRate(cfg.RateLimit)
	if err != nil {
		log.Fatalf("invalid rate_limit %q: %v", cfg.RateLimit, err)
	}
	rateLimiter := ratelimit.NewLimiter(rps, burst)
	defer rateLimiter.Close()

	// 12. Build the proxy engine
	engine := gateway.New(routes, respCache, upstreamClient, gateway.Opts{
		CacheTTL: cfg.CacheTTL(),
		Metrics:  m,
		Logger:   logger,
	})

	// 13. Build the health and admin handlers
	healthHandler := gateway.HealthHandler(routes, upstreamClient, redisClient, m)
	adminResetCircuit := gateway.AdminResetCircuitHandler(upstreamClient)

	// 14. Build the chi router with the full middleware chain
	serverOpts := &server.Opts{
		RateLimiter:       rateLimiter,
		Metrics:           m,
		MetricsMiddleware: metricsMiddleware,
		MetricsHandler:    metricsHandler,
		AdminResetCircuit: adminResetCircuit,
		Logger:            logger,
	}
	router := server.New(cfg, engine, auth.Gate(validator), healthHandler, serverOpts)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disabled — proxied responses may stream for a while
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("gateway listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	logger.Info("server stopped")
}

func redisAddr(cfg *config.Config) string {
	host := cfg.RedisHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.RedisPort
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
