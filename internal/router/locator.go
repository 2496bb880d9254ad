package router

import (
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/registry"
	"go.uber.org/zap"
)

// Route is a compiled, matchable route ready for request dispatch.
type Route struct {
	ID             string
	Path           string
	Backend        *url.URL
	CollectionName string
	RateLimit      *registry.RateLimit

	matcher  *pathMatcher
	orderIdx int // snapshot order for tie-breaking
}

// Matches reports whether the request path matches this route's pattern.
func (rt *Route) Matches(path string) bool {
	return rt.matcher.matches(path)
}

// Locator compiles the route registry into a matchable route table. It is
// the bridge between the registry's dynamic definitions and the request
// path: Refresh snapshots the registry, Match serves lookups lock-free
// against the last published table.
type Locator struct {
	reg *registry.RouteRegistry

	mu     sync.RWMutex
	routes []*Route
}

// NewLocator creates a locator over the given registry. The table is empty
// until the first Refresh.
func NewLocator(reg *registry.RouteRegistry) *Locator {
	return &Locator{reg: reg}
}

// Refresh recompiles the route table from the current registry contents.
// An invalid backend URL is a fatal configuration error surfaced to the
// caller rather than silently dropped.
func (l *Locator) Refresh() error {
	defs := l.reg.Routes()
	compiled := make([]*Route, 0, len(defs))

	for i, def := range defs {
		route, err := compile(def, i)
		if err != nil {
			return fmt.Errorf("invalid route configuration for route %q: %w", def.ID, err)
		}
		compiled = append(compiled, route)
	}

	// Most specific pattern first; snapshot order breaks ties.
	sort.SliceStable(compiled, func(i, j int) bool {
		si, sj := compiled[i].matcher.specificity(), compiled[j].matcher.specificity()
		if si != sj {
			return si > sj
		}
		return compiled[i].orderIdx < compiled[j].orderIdx
	})

	l.mu.Lock()
	l.routes = compiled
	l.mu.Unlock()

	logging.Debug("route table refreshed", zap.Int("routes", len(compiled)))
	return nil
}

// Match returns the most specific route matching the request path, or nil.
func (l *Locator) Match(path string) *Route {
	l.mu.RLock()
	routes := l.routes
	l.mu.RUnlock()

	for _, rt := range routes {
		if rt.Matches(path) {
			return rt
		}
	}
	return nil
}

// Routes returns the current compiled table in match order.
func (l *Locator) Routes() []*Route {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Route, len(l.routes))
	copy(out, l.routes)
	return out
}

func compile(def *registry.RouteDefinition, idx int) (*Route, error) {
	backend, err := url.Parse(def.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL %q: %w", def.BackendURL, err)
	}
	if backend.Scheme == "" || backend.Host == "" {
		return nil, fmt.Errorf("backend URL %q must be absolute", def.BackendURL)
	}

	return &Route{
		ID:             def.ID,
		Path:           def.Path,
		Backend:        backend,
		CollectionName: def.CollectionName,
		RateLimit:      def.RateLimit,
		matcher:        newPathMatcher(def.Path),
		orderIdx:       idx,
	}, nil
}
