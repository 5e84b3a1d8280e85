// Package routetable loads the gateway's routes.yml and resolves an
// incoming request path to an upstream base URL.
package routetable

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Route is an ordered record contributing zero or more predicates, all
// pointing at the same upstream.
type Route struct {
	ID         string   `yaml:"id"`
	URI        string   `yaml:"uri"`
	Predicates []string `yaml:"predicates"`
}

type routesFile struct {
	Gateway struct {
		Routes []Route `yaml:"routes"`
	} `yaml:"gateway"`
}

// entry is a single flattened (predicate, upstream) pair in declaration
// order, used for first-match iteration.
type entry struct {
	predicate string
	upstream  string
}

// RouteTable is immutable after Load; readers never hold a lock.
type RouteTable struct {
	entries []entry
}

// Load reads and parses path as a routes.yml file.
func Load(path string) (*RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file %s: %w", path, err)
	}

	var parsed routesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}

	return build(parsed.Gateway.Routes), nil
}

// LoadFromBytes parses routes.yml content already in memory (used by tests
// and by callers that fetch config from somewhere other than a local file).
func LoadFromBytes(data []byte) (*RouteTable, error) {
	var parsed routesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	return build(parsed.Gateway.Routes), nil
}

func build(routes []Route) *RouteTable {
	rt := &RouteTable{}
	for _, r := range routes {
		upstream := normalizeUpstream(r.URI)
		for _, p := range r.Predicates {
			pred := normalizePredicate(p)
			if pred == "" {
				continue
			}
			rt.entries = append(rt.entries, entry{predicate: pred, upstream: upstream})
		}
	}
	return rt
}

// normalizeUpstream forces a scheme when the config omits one, per the
// routes file convention.
func normalizeUpstream(uri string) string {
	uri = strings.TrimSpace(uri)
	if strings.Contains(uri, "://") {
		return uri
	}
	return "http://" + uri
}

// normalizePredicate strips the Spring-Cloud-Gateway-style "Path=" marker
// and surrounding slashes, leaving a literal path prefix.
func normalizePredicate(p string) string {
	p = strings.TrimSpace(p)
	if idx := strings.Index(p, "="); idx != -1 {
		p = p[idx+1:]
	}
	p = strings.TrimSpace(p)
	return strings.Trim(p, "/")
}

// Upstreams returns the distinct upstream base URLs referenced by the
// table, in first-seen order. Used by the health endpoint to probe every
// backend exactly once regardless of how many predicates route to it.
func (rt *RouteTable) Upstreams() []string {
	seen := make(map[string]bool, len(rt.entries))
	var out []string
	for _, e := range rt.entries {
		if seen[e.upstream] {
			continue
		}
		seen[e.upstream] = true
		out = append(out, e.upstream)
	}
	return out
}

// Match iterates routes in declaration order and, within a route, its
// predicates in declaration order, returning the first upstream whose
// predicate is a prefix of path. First-match wins across both dimensions.
func (rt *RouteTable) Match(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	for _, e := range rt.entries {
		if strings.HasPrefix(trimmed, e.predicate) {
			return e.upstream, true
		}
	}
	return "", false
}
