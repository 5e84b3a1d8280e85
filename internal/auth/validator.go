// Package auth validates bearer tokens against a configured JWT secret
// and algorithm, caching successful validations under the opaque token
// string, and gates gateway routes behind that validation.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired and ErrInvalid distinguish the two failure modes the spec's
// error taxonomy cares about: an expired token gets a different detail
// message than a malformed or badly-signed one.
var (
	ErrExpired = errors.New("unauthorized: expired")
	ErrInvalid = errors.New("unauthorized: invalid")
)

const (
	defaultTokenTTL = 300 * time.Second
	softCap         = 100
)

type tokenCacheEntry struct {
	claims jwt.MapClaims
	expiry time.Time
}

func (e tokenCacheEntry) expired(now time.Time) bool {
	return !e.expiry.After(now)
}

// Validator verifies bearer tokens with a configured secret/algorithm and
// caches successful verifications by the opaque token string.
type Validator struct {
	secret    []byte
	algorithm string

	mu    sync.Mutex
	cache map[string]tokenCacheEntry
}

// NewValidator builds a Validator. algorithm defaults to HS256.
func NewValidator(secret []byte, algorithm string) *Validator {
	if algorithm == "" {
		algorithm = "HS256"
	}
	return &Validator{
		secret:    secret,
		algorithm: algorithm,
		cache:     make(map[string]tokenCacheEntry),
	}
}

// Validate returns the token's claims, either from the positive cache or
// by verifying its signature and expiry fresh.
func (v *Validator) Validate(token string) (jwt.MapClaims, error) {
	now := time.Now()

	v.mu.Lock()
	if e, ok := v.cache[token]; ok && !e.expired(now) {
		v.mu.Unlock()
		return e.claims, nil
	}
	v.mu.Unlock()

	claims, err := v.verify(token)
	if err != nil {
		return nil, err
	}

	expiry := now.Add(defaultTokenTTL)
	if exp, ok := claims["exp"]; ok {
		if secs, ok := asUnixSeconds(exp); ok {
			expiry = time.Unix(secs, 0)
		}
	}

	v.mu.Lock()
	v.cache[token] = tokenCacheEntry{claims: claims, expiry: expiry}
	if len(v.cache) > softCap {
		v.pruneExpiredLocked(now)
	}
	v.mu.Unlock()

	return claims, nil
}

func (v *Validator) verify(token string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !parsed.Valid {
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalid
	}
	return claims, nil
}

// pruneExpiredLocked drops every expired entry. Called with mu held once
// the cache exceeds its soft cap; it is a full rebuild rather than an LRU.
func (v *Validator) pruneExpiredLocked(now time.Time) {
	for token, e := range v.cache {
		if e.expired(now) {
			delete(v.cache, token)
		}
	}
}

func asUnixSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}
