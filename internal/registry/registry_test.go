package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func def(id, path, backend string) *RouteDefinition {
	return &RouteDefinition{ID: id, Path: path, BackendURL: backend, CollectionName: id}
}

func TestAddRoute(t *testing.T) {
	r := New()
	r.AddRoute(def("users", "/api/users/**", "http://worker:8080"))

	if r.Size() != 1 {
		t.Fatalf("expected size 1, got %d", r.Size())
	}
	got := r.FindByPath("/api/users/**")
	if got == nil || got.ID != "users" {
		t.Fatalf("FindByPath returned %+v", got)
	}
}

func TestAddNilRouteIsNoOp(t *testing.T) {
	r := New()
	r.AddRoute(nil)
	if !r.IsEmpty() {
		t.Error("nil route should not be added")
	}
}

func TestAddEmptyPathIsNoOp(t *testing.T) {
	r := New()
	r.AddRoute(def("users", "", "http://worker:8080"))
	if r.Size() != 0 {
		t.Errorf("expected size 0, got %d", r.Size())
	}
}

func TestAddDuplicatePathReplaces(t *testing.T) {
	r := New()
	r.AddRoute(def("a", "/api/users/**", "http://one"))
	r.AddRoute(def("a", "/api/users/**", "http://two"))

	if r.Size() != 1 {
		t.Fatalf("expected size 1, got %d", r.Size())
	}
	if got := r.FindByPath("/api/users/**"); got.BackendURL != "http://two" {
		t.Errorf("expected last writer to win, got backend %s", got.BackendURL)
	}
}

func TestUpdateRouteWithChangedPath(t *testing.T) {
	r := New()
	r.AddRoute(def("users", "/api/users/**", "http://worker"))
	r.UpdateRoute(def("users", "/api/people/**", "http://worker"))

	if r.Size() != 1 {
		t.Fatalf("expected size 1, got %d", r.Size())
	}
	if r.FindByPath("/api/users/**") != nil {
		t.Error("old path index entry should be removed after path change")
	}
	if got := r.FindByPath("/api/people/**"); got == nil || got.ID != "users" {
		t.Errorf("new path not indexed: %+v", got)
	}
}

func TestRemoveRoute(t *testing.T) {
	r := New()
	r.AddRoute(def("users", "/api/users/**", "http://worker"))

	r.RemoveRoute("unknown") // no-op
	if r.Size() != 1 {
		t.Fatal("removing unknown id should be a no-op")
	}

	r.RemoveRoute("users")
	if !r.IsEmpty() {
		t.Error("route should be removed")
	}
	if r.FindByPath("/api/users/**") != nil {
		t.Error("path index should be cleaned up on remove")
	}
}

func TestFindByPathEdgeCases(t *testing.T) {
	r := New()
	r.AddRoute(def("users", "/api/users/**", "http://worker"))

	if r.FindByPath("") != nil {
		t.Error("empty path should return nil")
	}
	if r.FindByPath("/api/unknown/**") != nil {
		t.Error("unknown path should return nil")
	}
	// Lookup is exact, not pattern matching
	if r.FindByPath("/api/users/123") != nil {
		t.Error("FindByPath must be exact, not a pattern match")
	}
}

func TestRemoveByService(t *testing.T) {
	r := New()
	r.AddRoute(&RouteDefinition{ID: "a", ServiceID: "svc1", Path: "/api/a/**", BackendURL: "http://x"})
	r.AddRoute(&RouteDefinition{ID: "b", ServiceID: "svc1", Path: "/api/b/**", BackendURL: "http://x"})
	r.AddRoute(&RouteDefinition{ID: "c", ServiceID: "svc2", Path: "/api/c/**", BackendURL: "http://y"})

	if n := r.RemoveByService("svc1"); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if r.Size() != 1 || r.FindByID("c") == nil {
		t.Error("svc2 routes should survive")
	}
}

func TestRoutesReturnsDefensiveCopy(t *testing.T) {
	r := New()
	r.AddRoute(def("users", "/api/users/**", "http://worker"))

	routes := r.Routes()
	routes[0] = nil

	if got := r.FindByID("users"); got == nil {
		t.Error("mutating the returned slice must not affect the registry")
	}
}

func TestRateLimitCarried(t *testing.T) {
	r := New()
	r.AddRoute(&RouteDefinition{
		ID: "users", Path: "/api/users/**", BackendURL: "http://worker",
		RateLimit: &RateLimit{Requests: 100, Window: time.Minute},
	})
	got := r.FindByID("users")
	if got.RateLimit == nil || got.RateLimit.Requests != 100 {
		t.Errorf("rate limit not carried: %+v", got.RateLimit)
	}
}

func TestConcurrentMutations(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := fmt.Sprintf("route-%d-%d", worker, j%20)
				path := fmt.Sprintf("/api/c%d-%d/**", worker, j%20)
				switch j % 4 {
				case 0, 1:
					r.AddRoute(def(id, path, "http://worker"))
				case 2:
					r.UpdateRoute(def(id, path, "http://worker2"))
				case 3:
					r.RemoveRoute(id)
				}
				r.FindByPath(path)
				r.Routes()
			}
		}(i)
	}
	wg.Wait()

	// Consistency: size agrees with the snapshot, and every route's path
	// index entry points back at a live route.
	routes := r.Routes()
	if len(routes) != r.Size() {
		t.Errorf("Size()=%d disagrees with len(Routes())=%d", r.Size(), len(routes))
	}
	for _, route := range routes {
		indexed := r.FindByPath(route.Path)
		if indexed == nil {
			t.Errorf("route %s has no path index entry", route.ID)
		}
	}
}
