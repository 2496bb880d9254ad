// Package gateway assembles the gateway's filter chain and runs the proxy
// and admin servers.
package gateway

import (
	"net/http"

	"github.com/emf-platform/gateway/internal/authz"
	"github.com/emf-platform/gateway/internal/config"
	"github.com/emf-platform/gateway/internal/metrics"
	"github.com/emf-platform/gateway/internal/middleware"
	"github.com/emf-platform/gateway/internal/middleware/auth"
	"github.com/emf-platform/gateway/internal/proxy"
	"github.com/emf-platform/gateway/internal/ratelimit"
	"github.com/emf-platform/gateway/internal/router"
	"github.com/emf-platform/gateway/internal/tenant"
)

// Handler builds the full request chain:
//
//	correlation → recovery → security headers → access log → IP limit →
//	tenant slug → route match → metrics → JWT auth → permission resolution →
//	route authorization → per-route rate limit → proxy
//
// Route matching runs before metrics so the route id is available as a
// bounded metric label, and before auth so per-route state is in context
// for every later filter.
func Handler(
	cfg *config.Config,
	locator *router.Locator,
	slugCache *tenant.SlugCache,
	jwtAuth *auth.JWTAuth,
	resolver *authz.Resolver,
	redisLimiter *ratelimit.RedisLimiter,
	ipLimiter *ratelimit.IPLimiter,
	m *metrics.Metrics,
	p *proxy.Proxy,
) http.Handler {
	chain := middleware.NewChain(
		middleware.Correlation(),
		middleware.Recovery(),
		middleware.SecurityHeaders(),
		middleware.AccessLog("/healthz", "/readyz"),
	)

	chain = chain.AppendIf(cfg.IPRateLimit.Enabled && ipLimiter != nil, ratelimit.PerIP(ipLimiter, m))

	if cfg.Tenant.Enabled {
		chain = chain.Append(tenant.NewExtractor(slugCache, cfg.Tenant).Middleware())
	}

	chain = chain.Append(matchRoute(locator))

	if m != nil {
		chain = chain.Append(m.Middleware(routeLabel))
	}

	chain = chain.Append(jwtAuth.Middleware())
	chain = chain.Append(authz.Resolution(resolver, cfg.Security.PermissionsEnabled))
	chain = chain.Append(authz.RouteAuthorization(
		collectionLookup(locator), cfg.Security.PermissionsEnabled, cfg.Auth.PublicPaths))
	chain = chain.Append(ratelimit.PerRoute(redisLimiter, m))

	return chain.Then(p.Handler())
}

// matchRoute resolves the route for the (tenant-stripped) request path and
// attaches it to the context. Unmatched requests continue down the chain;
// the proxy converts them to 404 after auth has run, so probing unknown
// paths still requires a valid token.
func matchRoute(locator *router.Locator) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rt := locator.Match(r.URL.Path); rt != nil {
				r = r.WithContext(router.WithRoute(r.Context(), rt))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// routeLabel keeps the metric cardinality bounded: route id when matched,
// a fixed bucket otherwise.
func routeLabel(r *http.Request) string {
	if rt := router.RouteFrom(r.Context()); rt != nil {
		return rt.ID
	}
	return "unmatched"
}

// collectionLookup resolves request paths for the route authorization
// filter. Route ids are the collection ids the worker keys object
// permissions by; the collection name is only used in denial messages.
func collectionLookup(locator *router.Locator) authz.CollectionLookup {
	return func(path string) (string, string) {
		if rt := locator.Match(path); rt != nil {
			return rt.ID, rt.CollectionName
		}
		return "", ""
	}
}
