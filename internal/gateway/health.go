package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/nullbridge/gateway/internal/circuitbreaker"
	"github.com/nullbridge/gateway/internal/metrics"
	"github.com/nullbridge/gateway/internal/routetable"
	"github.com/nullbridge/gateway/internal/upstream"
)

type serviceStatus struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

type circuitStatus struct {
	Status       string  `json:"status"`
	Failures     int     `json:"failures"`
	LastFailure  *string `json:"last_failure"`
	RecoveryTime float64 `json:"recovery_time"`
}

type healthReport struct {
	Status    string                   `json:"status"`
	Redis     string                   `json:"redis"`
	Services  map[string]serviceStatus `json:"services"`
	Circuits  map[string]circuitStatus `json:"circuits"`
	Timestamp string                   `json:"timestamp"`
}

// HealthHandler aggregates a liveness probe per distinct upstream, the
// Redis remote cache tier's PING, and the current state of every circuit
// breaker created so far.
func HealthHandler(routes *routetable.RouteTable, client *upstream.Client, remote *redis.Client, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		report := healthReport{
			Status:    "healthy",
			Services:  make(map[string]serviceStatus),
			Circuits:  make(map[string]circuitStatus),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		if remote != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := remote.Ping(pingCtx).Err(); err != nil {
				report.Redis = "disconnected"
				report.Status = "degraded"
			} else {
				report.Redis = "connected"
			}
			cancel()
		} else {
			report.Redis = "disconnected"
		}

		for _, upstreamBase := range routes.Upstreams() {
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, upstreamBase, nil)
			if err != nil {
				report.Services[upstreamBase] = serviceStatus{Status: "down", Error: err.Error()}
				report.Status = "degraded"
				cancel()
				continue
			}
			resp, err := http.DefaultClient.Do(req)
			cancel()
			if err != nil {
				report.Services[upstreamBase] = serviceStatus{Status: "down", Error: err.Error()}
				report.Status = "degraded"
				continue
			}
			resp.Body.Close()
			status := "up"
			if resp.StatusCode >= 500 {
				status = "down"
				report.Status = "degraded"
			}
			report.Services[upstreamBase] = serviceStatus{Status: status, StatusCode: resp.StatusCode}
		}

		for _, host := range client.Hosts() {
			cb, ok := client.Breaker(host)
			if !ok {
				continue
			}
			state := cb.State()
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(host).Set(metrics.CircuitStateValue(state.String()))
			}

			var lastFailure *string
			recovery := cb.RecoveryRemaining().Seconds()
			if state != circuitbreaker.Closed {
				s := time.Now().UTC().Format(time.RFC3339)
				lastFailure = &s
			}
			if state == circuitbreaker.Open {
				report.Status = "degraded"
			}
			report.Circuits[host] = circuitStatus{
				Status:       state.String(),
				Failures:     cb.Failures(),
				LastFailure:  lastFailure,
				RecoveryTime: maxFloat(recovery, 0),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// AdminResetCircuitHandler resets every circuit breaker whose host
// contains service_name, 404ing if none match.
func AdminResetCircuitHandler(client *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceName := chi.URLParam(r, "service_name")
		if serviceName == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		matched := 0
		for _, host := range client.Hosts() {
			if !strings.Contains(host, serviceName) {
				continue
			}
			if cb, ok := client.Breaker(host); ok {
				cb.OnSuccess()
				matched++
			}
		}

		if matched == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"reset": matched})
	}
}
