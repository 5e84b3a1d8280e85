package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nullbridge/gateway/internal/auth"
	"github.com/nullbridge/gateway/internal/config"
	"github.com/nullbridge/gateway/internal/gateway"
	"github.com/nullbridge/gateway/internal/metrics"
	"github.com/nullbridge/gateway/internal/ratelimit"
	"github.com/nullbridge/gateway/internal/upstream"
)

func stubProxy(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func passthroughAuth(next http.Handler) http.Handler { return next }

func stubHealth(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestProxyRouteIsMounted(t *testing.T) {
	cfg := &config.Config{AllowedHosts: []string{"*"}}
	router := New(cfg, stubProxy(http.StatusNoContent), passthroughAuth, stubHealth, nil)

	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected the catch-all route to reach the proxy handler, got %d", rec.Code)
	}
}

func TestHealthRouteBypassesAuthGate(t *testing.T) {
	cfg := &config.Config{AllowedHosts: []string{"*"}}
	denyAll := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	router := New(cfg, stubProxy(http.StatusOK), denyAll, stubHealth, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to reach its handler directly, got %d", rec.Code)
	}
}

func TestAdminResetCircuitBypassesTheRealAuthGate(t *testing.T) {
	cfg := &config.Config{AllowedHosts: []string{"*"}}
	validator := auth.NewValidator([]byte("secret"), "HS256")
	client := upstream.New(upstream.Opts{})

	opts := &Opts{AdminResetCircuit: gateway.AdminResetCircuitHandler(client)}
	router := New(cfg, stubProxy(http.StatusOK), auth.Gate(validator), stubHealth, opts)

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-circuit/users-service", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code == http.StatusUnauthorized {
		t.Fatalf("expected the admin route to bypass the real auth gate without a token, got 401: %s", rec.Body.String())
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown service with no auth error, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimitRejectionIncrementsMetric(t *testing.T) {
	cfg := &config.Config{AllowedHosts: []string{"*"}}
	m := metrics.New()
	limiter := ratelimit.NewLimiter(1, 1) // burst of 1, so the second request is denied
	defer limiter.Close()

	opts := &Opts{RateLimiter: limiter, Metrics: m}
	router := New(cfg, stubProxy(http.StatusOK), passthroughAuth, stubHealth, opts)

	req := httptest.NewRequest(http.MethodGet, "/users/1", nil)
	req.RemoteAddr = "203.0.113.5:1234"

	router.ServeHTTP(httptest.NewRecorder(), req)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the second request to be rate limited, got %d", rec.Code)
	}

	var metric dto.Metric
	m.RateLimitedTotal.(prometheus.Metric).Write(&metric)
	if metric.GetCounter().GetValue() != 1 {
		t.Fatalf("expected RateLimitedTotal=1, got %v", metric.GetCounter().GetValue())
	}
}

func TestSecurityHeadersAppliedToEveryRoute(t *testing.T) {
	cfg := &config.Config{AllowedHosts: []string{"*"}}
	router := New(cfg, stubProxy(http.StatusOK), passthroughAuth, stubHealth, nil)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("expected security headers on the proxy route")
	}
}
