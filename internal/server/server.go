// Package server wires the gateway's chi router: security headers,
// request IDs, per-request structured logging, CORS, metrics, the
// authenticated proxy catch-all and metrics endpoints, and the
// unauthenticated health/admin endpoints.
package server

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/nullbridge/gateway/internal/config"
	"github.com/nullbridge/gateway/internal/metrics"
	"github.com/nullbridge/gateway/internal/ratelimit"
)

// Opts holds optional middleware and handlers for server construction.
// Each is skipped entirely when nil/zero, so tests can wire only what
// they exercise.
type Opts struct {
	RateLimiter       *ratelimit.Limiter
	Metrics           *metrics.Metrics
	MetricsMiddleware func(http.Handler) http.Handler
	MetricsHandler    http.Handler
	AdminResetCircuit http.HandlerFunc
	Logger            *slog.Logger
}

// New creates and configures the chi router with all gateway routes
// mounted. proxy is the ProxyEngine's catch-all handler; authGate wraps
// every route it applies to except health.
func New(cfg *config.Config, proxy http.Handler, authGate func(http.Handler) http.Handler, health http.HandlerFunc, opts *Opts) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(SecurityHeaders)

	var requestLogger *slog.Logger
	if opts != nil {
		requestLogger = opts.Logger
	}
	r.Use(RequestLogger(requestLogger))

	if opts != nil && opts.MetricsMiddleware != nil {
		r.Use(opts.MetricsMiddleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedHosts,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(func(next http.Handler) http.Handler {
		gated := authGate(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/health" {
				next.ServeHTTP(w, req)
				return
			}
			gated.ServeHTTP(w, req)
		})
	})
	if opts != nil && opts.RateLimiter != nil {
		r.Use(rateLimitMiddleware(opts.RateLimiter, opts.Metrics))
	}

	r.Get("/health", health)

	if opts != nil && opts.AdminResetCircuit != nil {
		r.Post("/admin/reset-circuit/{service_name}", opts.AdminResetCircuit)
	}

	if opts != nil && opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	r.Handle("/*", proxy)

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rate-limits by client IP, per the gateway's
// per-client-IP token bucket. m may be nil when metrics are disabled.
func rateLimitMiddleware(limiter *ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if !limiter.Allow(key) {
				if m != nil {
					m.RateLimitedTotal.Inc()
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"detail":"Rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
