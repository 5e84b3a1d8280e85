package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nullbridge/gateway/internal/routetable"
	"github.com/nullbridge/gateway/internal/upstream"
)

func TestHealthHandlerReportsUpUpstreamAndNoRedis(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstreamSrv.Close()

	rt, err := routetable.LoadFromBytes([]byte(`
gateway:
  routes:
    - id: users
      uri: ` + upstreamSrv.Listener.Addr().String() + `
      predicates:
        - "Path=/users/"
`))
	if err != nil {
		t.Fatalf("load routes: %v", err)
	}

	client := upstream.New(upstream.Opts{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HealthHandler(rt, client, nil, nil).ServeHTTP(rec, req)

	var report healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode health report: %v", err)
	}
	if report.Redis != "disconnected" {
		t.Fatalf("expected redis disconnected when no client configured, got %q", report.Redis)
	}
	svc, ok := report.Services["http://"+upstreamSrv.Listener.Addr().String()]
	if !ok {
		t.Fatalf("expected a service entry for the upstream, got %v", report.Services)
	}
	if svc.Status != "up" {
		t.Fatalf("expected upstream status up, got %q", svc.Status)
	}
}

func TestHealthHandlerReportsCircuitFailureCount(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstreamSrv.Close()
	host := upstreamSrv.Listener.Addr().String()

	client := upstream.New(upstream.Opts{Retries: 1, Backoff: time.Millisecond, BreakerBaseline: time.Minute})
	_, _ = client.Request(context.Background(), http.MethodGet, "http://"+host, http.Header{}, nil)

	rt, err := routetable.LoadFromBytes([]byte(`
gateway:
  routes:
    - id: users
      uri: ` + host + `
      predicates:
        - "Path=/users/"
`))
	if err != nil {
		t.Fatalf("load routes: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HealthHandler(rt, client, nil, nil).ServeHTTP(rec, req)

	var report healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode health report: %v", err)
	}
	circuit, ok := report.Circuits[host]
	if !ok {
		t.Fatalf("expected a circuit entry for %s, got %v", host, report.Circuits)
	}
	if circuit.Failures != 1 {
		t.Fatalf("expected failures=1 after one failing request, got %d", circuit.Failures)
	}
}

func TestAdminResetCircuitResetsMatchingBreaker(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstreamSrv.Close()
	host := upstreamSrv.Listener.Addr().String()

	client := upstream.New(upstream.Opts{Retries: 3, Backoff: time.Millisecond, BreakerBaseline: time.Minute})
	_, _ = client.Request(context.Background(), http.MethodGet, "http://"+host, http.Header{}, nil)

	cb, ok := client.Breaker(host)
	if !ok {
		t.Fatal("expected a breaker to exist after the failing request")
	}

	r := chi.NewRouter()
	r.Post("/admin/reset-circuit/{service_name}", AdminResetCircuitHandler(client))

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-circuit/"+host, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cb.State().String() != "closed" {
		t.Fatalf("expected breaker reset to closed, got %v", cb.State())
	}
}

func TestAdminResetCircuitNoMatchReturns404(t *testing.T) {
	client := upstream.New(upstream.Opts{})
	r := chi.NewRouter()
	r.Post("/admin/reset-circuit/{service_name}", AdminResetCircuitHandler(client))

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-circuit/nonexistent-service", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
