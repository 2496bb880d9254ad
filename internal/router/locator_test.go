package router

import (
	"strings"
	"testing"

	"github.com/emf-platform/gateway/internal/registry"
)

func newLocator(t *testing.T, defs ...*registry.RouteDefinition) *Locator {
	t.Helper()
	reg := registry.New()
	for _, d := range defs {
		reg.AddRoute(d)
	}
	l := NewLocator(reg)
	if err := l.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return l
}

func TestMatchExact(t *testing.T) {
	l := newLocator(t, &registry.RouteDefinition{ID: "health", Path: "/api/status", BackendURL: "http://worker:8080"})

	if rt := l.Match("/api/status"); rt == nil || rt.ID != "health" {
		t.Errorf("exact path should match, got %+v", rt)
	}
	if l.Match("/api/status/extra") != nil {
		t.Error("exact pattern must not match deeper paths")
	}
}

func TestMatchCatchAll(t *testing.T) {
	l := newLocator(t, &registry.RouteDefinition{ID: "users", Path: "/api/users/**", BackendURL: "http://worker:8080"})

	for _, path := range []string{"/api/users", "/api/users/123", "/api/users/123/posts"} {
		if l.Match(path) == nil {
			t.Errorf("catch-all should match %s", path)
		}
	}
	if l.Match("/api/userships") != nil {
		t.Error("catch-all must respect segment boundaries")
	}
	if l.Match("/api/orders/1") != nil {
		t.Error("unrelated path should not match")
	}
}

func TestMatchSingleSegment(t *testing.T) {
	l := newLocator(t, &registry.RouteDefinition{ID: "users", Path: "/api/users/*", BackendURL: "http://worker:8080"})

	if l.Match("/api/users/123") == nil {
		t.Error("single wildcard should match one segment")
	}
	if l.Match("/api/users/123/posts") != nil {
		t.Error("single wildcard must not match two segments")
	}
	if l.Match("/api/users") != nil {
		t.Error("single wildcard requires the extra segment")
	}
	if l.Match("/api/users/") != nil {
		t.Error("empty segment should not match")
	}
}

func TestMatchSpecificityOrder(t *testing.T) {
	l := newLocator(t,
		&registry.RouteDefinition{ID: "all", Path: "/api/**", BackendURL: "http://generic:80"},
		&registry.RouteDefinition{ID: "users", Path: "/api/users/**", BackendURL: "http://users:80"},
		&registry.RouteDefinition{ID: "me", Path: "/api/users/me", BackendURL: "http://me:80"},
	)

	cases := map[string]string{
		"/api/users/me":  "me",
		"/api/users/123": "users",
		"/api/orders":    "all",
	}
	for path, want := range cases {
		rt := l.Match(path)
		if rt == nil || rt.ID != want {
			t.Errorf("Match(%s) = %+v, want route %s", path, rt, want)
		}
	}
}

func TestMatchEmptyPath(t *testing.T) {
	l := newLocator(t, &registry.RouteDefinition{ID: "all", Path: "/**", BackendURL: "http://worker:8080"})
	if l.Match("") != nil {
		t.Error("empty path should never match")
	}
}

func TestRefreshRejectsInvalidBackendURL(t *testing.T) {
	reg := registry.New()
	reg.AddRoute(&registry.RouteDefinition{ID: "bad", Path: "/api/x/**", BackendURL: "://not-a-url"})

	l := NewLocator(reg)
	err := l.Refresh()
	if err == nil {
		t.Fatal("expected error for invalid backend URL")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error should name the route: %v", err)
	}
}

func TestRefreshRejectsRelativeBackendURL(t *testing.T) {
	reg := registry.New()
	reg.AddRoute(&registry.RouteDefinition{ID: "rel", Path: "/api/x/**", BackendURL: "/just/a/path"})

	if err := NewLocator(reg).Refresh(); err == nil {
		t.Fatal("expected error for relative backend URL")
	}
}

func TestRefreshPicksUpRegistryChanges(t *testing.T) {
	reg := registry.New()
	reg.AddRoute(&registry.RouteDefinition{ID: "users", Path: "/api/users/**", BackendURL: "http://worker:8080"})

	l := NewLocator(reg)
	if err := l.Refresh(); err != nil {
		t.Fatal(err)
	}
	if l.Match("/api/users/1") == nil {
		t.Fatal("route should match after first refresh")
	}

	reg.RemoveRoute("users")
	// Stale table still matches until refresh
	if l.Match("/api/users/1") == nil {
		t.Error("table should be stable between refreshes")
	}
	if err := l.Refresh(); err != nil {
		t.Fatal(err)
	}
	if l.Match("/api/users/1") != nil {
		t.Error("removed route should not match after refresh")
	}
}

func TestGlobPattern(t *testing.T) {
	l := newLocator(t, &registry.RouteDefinition{ID: "files", Path: "/api/*/files/**", BackendURL: "http://files:80"})

	if l.Match("/api/acme/files/a/b") == nil {
		t.Error("glob pattern should match")
	}
	if l.Match("/api/acme/other") != nil {
		t.Error("glob pattern should not match unrelated path")
	}
}
