package router

import "context"

type routeKey struct{}

// WithRoute attaches the matched route to a request context so downstream
// filters (rate limiting, proxying) can use it without a second lookup.
func WithRoute(ctx context.Context, rt *Route) context.Context {
	return context.WithValue(ctx, routeKey{}, rt)
}

// RouteFrom returns the matched route, or nil when no route matched.
func RouteFrom(ctx context.Context) *Route {
	rt, _ := ctx.Value(routeKey{}).(*Route)
	return rt
}
