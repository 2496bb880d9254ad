package registry

import (
	"sync"
	"time"

	"github.com/emf-platform/gateway/internal/logging"
	"go.uber.org/zap"
)

// RateLimit configures per-route rate limiting.
type RateLimit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

// RouteDefinition maps a URL path pattern to a backend base URL. Patterns
// support glob-style segment wildcards: a trailing "/**" matches any number
// of extra segments, a trailing "/*" exactly one.
type RouteDefinition struct {
	ID             string     `json:"id"`
	ServiceID      string     `json:"serviceId,omitempty"`
	Path           string     `json:"path"`
	BackendURL     string     `json:"backendUrl"`
	CollectionName string     `json:"collectionName,omitempty"`
	RateLimit      *RateLimit `json:"rateLimit,omitempty"`
}

// RouteRegistry is a thread-safe in-memory registry of route definitions,
// keyed by route ID with a secondary index by path pattern.
//
// The registry is populated from the control-plane bootstrap fetch at startup
// and mutated by Kafka configuration events afterwards. The route locator
// snapshots it on every refresh.
type RouteRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*RouteDefinition
	byPath map[string]*RouteDefinition
}

// New creates an empty route registry.
func New() *RouteRegistry {
	return &RouteRegistry{
		byID:   make(map[string]*RouteDefinition),
		byPath: make(map[string]*RouteDefinition),
	}
}

// AddRoute inserts or replaces a route by ID and refreshes the path index.
// A nil route or a route with an empty path is rejected as a no-op. Two
// routes registered with the same path follow last-writer-wins.
func (r *RouteRegistry) AddRoute(route *RouteDefinition) {
	if route == nil {
		logging.Warn("attempted to add nil route to registry")
		return
	}
	if route.Path == "" {
		logging.Error("cannot add route with empty path", zap.String("route_id", route.ID))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.byID[route.ID]
	if existed && prev.Path != route.Path {
		// Path changed: drop the stale index entry unless another route
		// has since claimed it.
		if owner, ok := r.byPath[prev.Path]; ok && owner.ID == route.ID {
			delete(r.byPath, prev.Path)
		}
	}

	r.byID[route.ID] = route
	r.byPath[route.Path] = route

	if existed {
		logging.Info("updated route",
			zap.String("route_id", route.ID),
			zap.String("path", route.Path),
			zap.String("backend", route.BackendURL))
	} else {
		logging.Info("added route",
			zap.String("route_id", route.ID),
			zap.String("path", route.Path),
			zap.String("backend", route.BackendURL))
	}
}

// UpdateRoute replaces a route by ID. Same semantics as AddRoute; kept as a
// separate method to mirror the registry's mutation vocabulary.
func (r *RouteRegistry) UpdateRoute(route *RouteDefinition) {
	r.AddRoute(route)
}

// RemoveRoute removes a route by ID. Unknown or empty IDs are a no-op.
func (r *RouteRegistry) RemoveRoute(id string) {
	if id == "" {
		logging.Warn("attempted to remove route with empty ID")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	route, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if owner, ok := r.byPath[route.Path]; ok && owner.ID == id {
		delete(r.byPath, route.Path)
	}
	logging.Info("removed route", zap.String("route_id", id), zap.String("path", route.Path))
}

// FindByPath looks up a route by its exact path pattern. Returns nil for
// unknown or empty input.
func (r *RouteRegistry) FindByPath(path string) *RouteDefinition {
	if path == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPath[path]
}

// FindByID looks up a route by ID. Returns nil if unknown.
func (r *RouteRegistry) FindByID(id string) *RouteDefinition {
	if id == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Routes returns a defensive copy of all registered routes.
func (r *RouteRegistry) Routes() []*RouteDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*RouteDefinition, 0, len(r.byID))
	for _, route := range r.byID {
		out = append(out, route)
	}
	return out
}

// RemoveByService removes every route owned by the given service. Returns
// the number of routes removed.
func (r *RouteRegistry) RemoveByService(serviceID string) int {
	if serviceID == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, route := range r.byID {
		if route.ServiceID != serviceID {
			continue
		}
		delete(r.byID, id)
		if owner, ok := r.byPath[route.Path]; ok && owner.ID == id {
			delete(r.byPath, route.Path)
		}
		removed++
	}
	if removed > 0 {
		logging.Info("removed routes for service",
			zap.String("service_id", serviceID),
			zap.Int("count", removed))
	}
	return removed
}

// Clear removes all routes. Used by tests and full configuration reloads.
func (r *RouteRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.byID)
	r.byID = make(map[string]*RouteDefinition)
	r.byPath = make(map[string]*RouteDefinition)
	logging.Info("cleared registry", zap.Int("count", count))
}

// Size returns the number of registered routes.
func (r *RouteRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// IsEmpty reports whether the registry holds no routes.
func (r *RouteRegistry) IsEmpty() bool {
	return r.Size() == 0
}
