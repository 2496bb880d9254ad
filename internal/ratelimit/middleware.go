package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/emf-platform/gateway/internal/errors"
	"github.com/emf-platform/gateway/internal/metrics"
	"github.com/emf-platform/gateway/internal/middleware"
	"github.com/emf-platform/gateway/internal/middleware/auth"
	"github.com/emf-platform/gateway/internal/router"
	"github.com/emf-platform/gateway/internal/tenant"
)

// PerRoute returns middleware enforcing the matched route's rate limit via
// the shared Redis window, keyed by the authenticated principal (or client
// IP for anonymous traffic). It also counts the tenant's daily API call.
// m may be nil.
func PerRoute(limiter *RedisLimiter, m *metrics.Metrics) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt := router.RouteFrom(r.Context())
			if rt == nil {
				next.ServeHTTP(w, r)
				return
			}

			if info := tenant.FromContext(r.Context()); info != nil && info.ID != "" {
				limiter.CountDailyCall(r.Context(), info.ID)
			}

			if rt.RateLimit == nil {
				next.ServeHTTP(w, r)
				return
			}

			principal := ClientIP(r)
			if p := auth.PrincipalFrom(r.Context()); p != nil {
				principal = p.Username
			}

			allowed, retryAfter := limiter.Allow(r.Context(), rt.ID, principal,
				rt.RateLimit.Requests, rt.RateLimit.Window)
			if !allowed {
				if m != nil {
					m.RecordRateLimited(rt.ID)
				}
				writeLimited(w, r, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PerIP returns middleware throttling requests by source address before any
// authentication runs. m may be nil.
func PerIP(limiter *IPLimiter, m *metrics.Metrics) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ClientIP(r)) {
				if m != nil {
					m.RecordRateLimited("ip")
				}
				writeLimited(w, r, time.Second)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	errors.ErrRateLimitExceeded.
		WithRequest(r.URL.Path, middleware.CorrelationID(r.Context())).
		WriteJSON(w)
}
