package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emf-platform/gateway/internal/metrics"
	"github.com/emf-platform/gateway/internal/middleware/auth"
	"github.com/emf-platform/gateway/internal/registry"
	"github.com/emf-platform/gateway/internal/router"
	"github.com/emf-platform/gateway/internal/tenant"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T) (*miniredis.Miniredis, *RedisLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisLimiter(client)
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr, rl := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _ := rl.Allow(ctx, "orders", "alice", 3, time.Minute)
		if !allowed {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}

	allowed, retryAfter := rl.Allow(ctx, "orders", "alice", 3, time.Minute)
	if allowed {
		t.Fatal("fourth request should be limited")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("retryAfter = %v, want within the window", retryAfter)
	}

	if ttl := mr.TTL("ratelimit:orders:alice"); ttl != time.Minute {
		t.Errorf("window TTL = %v, want %v", ttl, time.Minute)
	}

	// A new window starts once the key expires.
	mr.FastForward(time.Minute + time.Second)
	if allowed, _ := rl.Allow(ctx, "orders", "alice", 3, time.Minute); !allowed {
		t.Error("request after window reset should be allowed")
	}
}

func TestRedisLimiterIsolatesKeys(t *testing.T) {
	_, rl := testLimiter(t)
	ctx := context.Background()

	rl.Allow(ctx, "orders", "alice", 1, time.Minute)
	if allowed, _ := rl.Allow(ctx, "orders", "alice", 1, time.Minute); allowed {
		t.Error("alice should be limited on orders")
	}
	if allowed, _ := rl.Allow(ctx, "orders", "bob", 1, time.Minute); !allowed {
		t.Error("bob must not share alice's window")
	}
	if allowed, _ := rl.Allow(ctx, "invoices", "alice", 1, time.Minute); !allowed {
		t.Error("routes must not share windows")
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	rl := NewRedisLimiter(client)

	if allowed, _ := rl.Allow(context.Background(), "orders", "alice", 1, time.Minute); !allowed {
		t.Error("Redis outage must not block requests")
	}
}

func TestDailyCounter(t *testing.T) {
	mr, rl := testLimiter(t)
	ctx := context.Background()

	rl.CountDailyCall(ctx, "t1")
	rl.CountDailyCall(ctx, "t1")
	rl.CountDailyCall(ctx, "t2")

	key := "api-calls-daily:t1:" + time.Now().UTC().Format("2006-01-02")
	if got, _ := mr.Get(key); got != "2" {
		t.Errorf("daily count = %q, want 2", got)
	}
	if ttl := mr.TTL(key); ttl != dailyCounterTTL {
		t.Errorf("daily counter TTL = %v, want %v", ttl, dailyCounterTTL)
	}
}

func limitedRoute(t *testing.T, requests int) *router.Route {
	t.Helper()
	reg := registry.New()
	reg.AddRoute(&registry.RouteDefinition{
		ID:         "orders",
		Path:       "/api/orders/**",
		BackendURL: "http://orders.internal:8080",
		RateLimit:  &registry.RateLimit{Requests: requests, Window: time.Minute},
	})
	loc := router.NewLocator(reg)
	if err := loc.Refresh(); err != nil {
		t.Fatal(err)
	}
	return loc.Match("/api/orders/1")
}

func TestPerRouteMiddleware(t *testing.T) {
	_, rl := testLimiter(t)
	rt := limitedRoute(t, 2)
	m := metrics.New()

	h := PerRoute(rl, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/orders/1", nil)
		ctx := router.WithRoute(r.Context(), rt)
		ctx = auth.WithPrincipal(ctx, &auth.Principal{Username: "alice"})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r.WithContext(ctx))
		return w
	}

	for i := 0; i < 2; i++ {
		if w := send(); w.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want 204", i+1, w.Code)
		}
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if body := scrapeMetrics(t, m); !strings.Contains(body, `gateway_rate_limited_total{route="orders"} 1`) {
		t.Error("missing rate-limited counter for the route")
	}
}

func TestPerRouteNoLimitConfigured(t *testing.T) {
	_, rl := testLimiter(t)

	reg := registry.New()
	reg.AddRoute(&registry.RouteDefinition{
		ID: "open", Path: "/api/open/**", BackendURL: "http://open.internal:8080",
	})
	loc := router.NewLocator(reg)
	if err := loc.Refresh(); err != nil {
		t.Fatal(err)
	}
	rt := loc.Match("/api/open/x")

	h := PerRoute(rl, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 10; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/open/x", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r.WithContext(router.WithRoute(r.Context(), rt)))
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want 204", i+1, w.Code)
		}
	}
}

func TestPerRouteCountsDailyCalls(t *testing.T) {
	mr, rl := testLimiter(t)
	rt := limitedRoute(t, 100)

	h := PerRoute(rl, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	r := httptest.NewRequest(http.MethodGet, "/api/orders/1", nil)
	ctx := router.WithRoute(r.Context(), rt)
	ctx = tenant.WithInfo(ctx, &tenant.Info{ID: "t1", Slug: "acme"})
	h.ServeHTTP(httptest.NewRecorder(), r.WithContext(ctx))

	key := "api-calls-daily:t1:" + time.Now().UTC().Format("2006-01-02")
	if got, _ := mr.Get(key); got != "1" {
		t.Errorf("daily count = %q, want 1", got)
	}
}

func TestIPLimiter(t *testing.T) {
	l := NewIPLimiter(1, time.Hour, 2)
	defer l.Stop()

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst should allow the first two requests")
	}
	if l.Allow("10.0.0.1") {
		t.Error("third request should exceed the burst")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("addresses must not share buckets")
	}
}

func TestPerIPMiddleware(t *testing.T) {
	l := NewIPLimiter(1, time.Hour, 1)
	defer l.Stop()
	m := metrics.New()
	h := PerIP(l, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	r.RemoteAddr = "10.0.0.9:51234"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if body := scrapeMetrics(t, m); !strings.Contains(body, `gateway_rate_limited_total{route="ip"} 1`) {
		t.Error("missing rate-limited counter for IP throttling")
	}
}

func TestIPLimiterStopTerminatesReaper(t *testing.T) {
	l := NewIPLimiter(1, time.Hour, 1)
	l.Stop()
	l.Stop() // idempotent

	select {
	case <-l.stop:
	default:
		t.Fatal("stop channel should be closed")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:4567"
	if got := ClientIP(r); got != "192.0.2.7" {
		t.Errorf("ClientIP = %q, want 192.0.2.7", got)
	}

	r.RemoteAddr = "192.0.2.8"
	if got := ClientIP(r); got != "192.0.2.8" {
		t.Errorf("ClientIP = %q, want the raw address", got)
	}
}
