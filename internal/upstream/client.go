// Package upstream provides a pooled HTTP client that forwards gateway
// requests to backend services, guarding each upstream host with its own
// circuit breaker and retrying transient failures with exponential backoff.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/nullbridge/gateway/internal/circuitbreaker"
)

// stripped lists request headers the transport supplies itself; forwarding
// the client's original values would corrupt the outgoing request.
var stripped = map[string]bool{
	"Host":           true,
	"Connection":     true,
	"Content-Length": true,
}

// ErrServiceUnavailable is returned when the circuit breaker for an
// upstream host denies admission.
type ErrServiceUnavailable struct {
	Host    string
	RetryIn time.Duration
}

func (e *ErrServiceUnavailable) Error() string {
	return fmt.Sprintf("service %s is unavailable. Will retry in %s", e.Host, e.RetryIn.Round(time.Second))
}

// ErrBadGateway is returned when every attempt failed, by a transport error
// or a 5xx response, and the breaker is not Open once the retry budget is
// exhausted.
type ErrBadGateway struct {
	Host     string
	Attempts int
}

func (e *ErrBadGateway) Error() string {
	return fmt.Sprintf("service %s unavailable after %d attempts", e.Host, e.Attempts)
}

// Opts configures retry/backoff and the per-host breaker baseline.
type Opts struct {
	Timeout         time.Duration // per-attempt timeout, default 30s
	Retries         int           // default 3
	Backoff         time.Duration // default 500ms
	BreakerBaseline time.Duration // default 30s
}

func (o Opts) withDefaults() Opts {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.BreakerBaseline <= 0 {
		o.BreakerBaseline = 30 * time.Second
	}
	return o
}

// Client is a shared, reusable HTTP client wrapping per-host circuit
// breakers. It is safe for concurrent use; callers never close it outside
// process shutdown.
type Client struct {
	http *http.Client
	opts Opts

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

// New builds an upstream Client with a pooled transport tuned for
// keep-alive reuse across many backend hosts.
func New(opts Opts) *Client {
	opts = opts.withDefaults()
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &Client{
		http:     &http.Client{Transport: transport},
		opts:     opts,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

// breakerFor lazily creates and caches a CircuitBreaker per upstream host.
func (c *Client) breakerFor(host string) *circuitbreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	if !ok {
		cb = circuitbreaker.New(circuitbreaker.Opts{Baseline: c.opts.BreakerBaseline})
		c.breakers[host] = cb
	}
	return cb
}

// Breaker returns the circuit breaker for host, or nil if none has been
// created yet (no request has been sent to it).
func (c *Client) Breaker(host string) (*circuitbreaker.CircuitBreaker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	return cb, ok
}

// Hosts returns the set of upstream hosts a breaker has been created for.
func (c *Client) Hosts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	hosts := make([]string, 0, len(c.breakers))
	for h := range c.breakers {
		hosts = append(hosts, h)
	}
	return hosts
}

func cleanHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if stripped[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// Request forwards method/url/headers/body to the upstream identified by
// url's host, guarded by that host's circuit breaker, making up to
// opts.Retries attempts with exponential backoff between them on transport
// errors and 5xx responses. The caller is responsible for closing the returned response
// body.
func (c *Client) Request(ctx context.Context, method, rawURL string, headers http.Header, body []byte) (*http.Response, error) {
	target, err := parseHost(rawURL)
	if err != nil {
		return nil, err
	}
	cb := c.breakerFor(target)
	headers = cleanHeaders(headers)

	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt < c.opts.Retries; attempt++ {
		if !cb.Admit() {
			remaining := cb.RecoveryRemaining()
			if remaining < 0 {
				remaining = 0
			}
			return nil, &ErrServiceUnavailable{Host: target, RetryIn: remaining}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		resp, err := c.doOnce(attemptCtx, method, rawURL, headers, body)
		cancel()

		switch {
		case err != nil:
			// Cancellation is neither success nor failure.
			if ctx.Err() != nil {
				return nil, err
			}
			cb.OnFailure()
			lastErr = err
			lastResp = nil
		case resp.StatusCode >= 500:
			cb.OnFailure()
			lastErr = nil
			lastResp = resp
			drainAndClose(resp)
		default:
			if cb.State() != circuitbreaker.Closed {
				cb.OnSuccess()
			}
			return resp, nil
		}

		if attempt < c.opts.Retries-1 {
			sleep := c.opts.Backoff * time.Duration(int64(1)<<uint(attempt))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if cb.State() == circuitbreaker.Open {
		return nil, &ErrServiceUnavailable{Host: target, RetryIn: cb.RecoveryRemaining()}
	}
	if lastErr != nil {
		return nil, &ErrBadGateway{Host: target, Attempts: c.opts.Retries}
	}
	if lastResp != nil {
		return nil, &ErrBadGateway{Host: target, Attempts: c.opts.Retries}
	}
	return nil, &ErrBadGateway{Host: target, Attempts: c.opts.Retries}
}

func (c *Client) doOnce(ctx context.Context, method, rawURL string, headers http.Header, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = headers.Clone()

	return c.http.Do(req)
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	return u.Host, nil
}
