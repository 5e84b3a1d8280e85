// Package gateway implements the proxy engine: it matches an incoming
// request to an upstream, serves GET requests from cache when possible,
// forwards everything else through the upstream client, and schedules
// cache population/invalidation as background work.
package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/bytedance/sonic"

	"github.com/nullbridge/gateway/internal/cache"
	"github.com/nullbridge/gateway/internal/metrics"
	"github.com/nullbridge/gateway/internal/routetable"
	"github.com/nullbridge/gateway/internal/upstream"
)

// maxRequestBodySize caps the body the engine will buffer for a mutating
// request; the gateway's non-goals exclude transformation, but it still
// has to hold the whole body in memory to forward and retry it.
const maxRequestBodySize = 32 << 20 // 32 MB

// Engine is the ProxyEngine: it owns no state of its own beyond its
// collaborators, all of which are safe for concurrent use.
type Engine struct {
	routes   *routetable.RouteTable
	cache    *cache.Cache
	client   *upstream.Client
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Opts configures an Engine.
type Opts struct {
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// New builds a ProxyEngine over the given route table, cache, and
// upstream client.
func New(routes *routetable.RouteTable, c *cache.Cache, client *upstream.Client, opts Opts) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 60 * time.Second
	}
	return &Engine{
		routes:   routes,
		cache:    c,
		client:   client,
		cacheTTL: opts.CacheTTL,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// routeNotFoundBody is the literal 404 body mandated when no predicate
// matches the request path.
const routeNotFoundBody = `{"status":404,"message":"No route found"}`

// ServeHTTP implements the ProxyEngine's process(path, request) operation
// as an http.Handler, mounted as the gateway's catch-all route.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upstreamBase, ok := e.routes.Match(r.URL.Path)
	if !ok {
		writeJSON(w, http.StatusNotFound, []byte(routeNotFoundBody))
		return
	}

	targetURL := upstreamBase + r.URL.Path
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	key := cache.Key(r.Method, r.URL.Path, r.URL.RawQuery)

	if r.Method == http.MethodGet {
		if v, hit := e.cache.Get(r.Context(), key); hit {
			e.observeCacheHit()
			writeJSON(w, http.StatusOK, v)
			return
		}
		e.observeCacheMiss()
	}

	var body []byte
	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		var err error
		body, err = readBody(r)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, []byte(fmt.Sprintf(`{"detail":%q}`, err.Error())))
			return
		}
	}

	resp, err := e.client.Request(r.Context(), r.Method, targetURL, r.Header, body)
	if err != nil {
		e.writeUpstreamError(w, err)
		return
	}
	defer resp.Body.Close()

	if r.Method == http.MethodGet && resp.StatusCode == http.StatusOK {
		payload, err := io.ReadAll(resp.Body)
		if err == nil {
			var decoded any
			if json.Unmarshal(payload, &decoded) == nil {
				go e.cache.Set(context.Background(), key, payload, e.cacheTTL)
				writeJSON(w, http.StatusOK, payload)
				return
			}
		}
		// Not JSON, or read failed: fall through to a raw stream-through
		// below using whatever bytes are left (readAll already drained
		// the body on success, so re-wrap them).
		if len(payload) > 0 {
			streamBytes(w, resp, payload)
			return
		}
	}

	streamThrough(w, resp)

	if isMutating(r.Method) {
		prefix := firstPathSegment(r.URL.Path)
		go e.cache.Invalidate(context.Background(), prefix)
	}
}

func (e *Engine) writeUpstreamError(w http.ResponseWriter, err error) {
	switch v := err.(type) {
	case *upstream.ErrServiceUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, []byte(fmt.Sprintf(
			`{"detail":"Service %s is unavailable. Will retry in %s"}`, v.Host, v.RetryIn.Round(time.Second))))
	case *upstream.ErrBadGateway:
		writeJSON(w, http.StatusBadGateway, []byte(fmt.Sprintf(
			`{"detail":"Service %s unavailable after %d attempts"}`, v.Host, v.Attempts)))
	default:
		e.logger.Error("proxy engine error", "error", err)
		writeJSON(w, http.StatusBadGateway, []byte(`{"detail":"upstream error"}`))
	}
}

func (e *Engine) observeCacheHit() {
	if e.metrics != nil {
		e.metrics.CacheHitsTotal.Inc()
	}
}

func (e *Engine) observeCacheMiss() {
	if e.metrics != nil {
		e.metrics.CacheMissesTotal.Inc()
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// firstPathSegment returns the first slash-delimited segment of path,
// used as the invalidation prefix for mutating requests (e.g. "users"
// for "/users/42").
func firstPathSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.Index(trimmed, "/"); idx != -1 {
		return trimmed[:idx]
	}
	return trimmed
}

func readBody(r *http.Request) ([]byte, error) {
	if r.ContentLength > maxRequestBodySize {
		return nil, fmt.Errorf("request body too large: %d bytes exceeds %d byte limit", r.ContentLength, maxRequestBodySize)
	}
	limited := io.LimitReader(r.Body, maxRequestBodySize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxRequestBodySize {
		return nil, fmt.Errorf("request body too large: exceeds %d byte limit", maxRequestBodySize)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// streamThrough copies the upstream's status, headers, and body verbatim.
// The spec's design notes preserve full buffering (no chunked streaming)
// even for this path, matching the source's behavior.
func streamThrough(w http.ResponseWriter, resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	streamBytes(w, resp, body)
}

// streamBytes writes already-buffered bytes (the GET-200-non-JSON case,
// where the body was read once already to probe for JSON).
func streamBytes(w http.ResponseWriter, resp *http.Response, body []byte) {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
