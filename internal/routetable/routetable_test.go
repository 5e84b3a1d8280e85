package routetable

import "testing"

const sample = `
gateway:
  routes:
    - id: users
      uri: user-service:8001
      predicates:
        - "Path=/users/"
    - id: widgets
      uri: widget-service:8002
      predicates:
        - "Path=/widgets/"
`

func TestMatchDeterministic(t *testing.T) {
	rt, err := LoadFromBytes([]byte(sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got1, ok1 := rt.Match("/users/42")
	got2, ok2 := rt.Match("/users/42")
	if !ok1 || !ok2 || got1 != got2 {
		t.Fatalf("expected deterministic match, got (%q,%v) then (%q,%v)", got1, ok1, got2, ok2)
	}
	if got1 != "http://user-service:8001" {
		t.Fatalf("unexpected upstream: %q", got1)
	}
}

func TestMatchFirstRouteWinsOverMoreSpecificLaterRoute(t *testing.T) {
	const cfg = `
gateway:
  routes:
    - id: a
      uri: svc-a
      predicates:
        - "Path=/x"
    - id: b
      uri: svc-b
      predicates:
        - "Path=/x/y"
`
	rt, err := LoadFromBytes([]byte(cfg))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got, ok := rt.Match("/x/y/z")
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "http://svc-a" {
		t.Fatalf("expected the first-declared route (svc-a) to win, got %q", got)
	}
}

func TestMatchNoRouteReturnsFalse(t *testing.T) {
	rt, err := LoadFromBytes([]byte(sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := rt.Match("/nope/x"); ok {
		t.Fatal("expected no match for an unregistered prefix")
	}
}

func TestUpstreamSchemeIsForced(t *testing.T) {
	const cfg = `
gateway:
  routes:
    - id: a
      uri: http://already-has-scheme:9000
      predicates:
        - "Path=/a/"
    - id: b
      uri: needs-scheme:9001
      predicates:
        - "Path=/b/"
`
	rt, err := LoadFromBytes([]byte(cfg))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, _ := rt.Match("/a/1")
	b, _ := rt.Match("/b/1")
	if a != "http://already-has-scheme:9000" {
		t.Fatalf("expected scheme left alone, got %q", a)
	}
	if b != "http://needs-scheme:9001" {
		t.Fatalf("expected http:// prefix added, got %q", b)
	}
}

func TestUpstreamsReturnsDistinctHosts(t *testing.T) {
	rt, err := LoadFromBytes([]byte(sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	hosts := rt.Upstreams()
	if len(hosts) != 2 {
		t.Fatalf("expected 2 distinct upstreams, got %d: %v", len(hosts), hosts)
	}
}
