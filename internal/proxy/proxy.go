// Package proxy forwards matched requests to their backend service,
// translating collection API paths to the worker's addressing scheme and
// stamping identity headers for the backend.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	gwerrors "github.com/emf-platform/gateway/internal/errors"
	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/middleware"
	"github.com/emf-platform/gateway/internal/middleware/auth"
	"github.com/emf-platform/gateway/internal/router"
	"github.com/emf-platform/gateway/internal/tenant"
	"go.uber.org/zap"
)

const collectionsPrefix = "/api/collections/"

// Proxy forwards requests to route backends over a shared transport.
type Proxy struct {
	transport http.RoundTripper
	timeout   time.Duration
}

// New creates a proxy. timeout bounds each upstream exchange unless the
// request context already carries a deadline.
func New(transport http.RoundTripper, timeout time.Duration) *Proxy {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Proxy{transport: transport, timeout: timeout}
}

// Handler proxies the request to the route attached to the context. It is
// the innermost handler of the gateway chain; requests without a matched
// route get a 404.
func (p *Proxy) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt := router.RouteFrom(r.Context())
		if rt == nil {
			gwerrors.ErrNotFound.
				WithMessage("No route found for path: "+r.URL.Path).
				WithRequest(r.URL.Path, middleware.CorrelationID(r.Context())).
				WriteJSON(w)
			return
		}

		ctx := r.Context()
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		proxyReq := p.buildRequest(ctx, r, rt)
		resp, err := p.transport.RoundTrip(proxyReq)
		if err != nil {
			p.writeError(w, r, rt, err)
			return
		}
		defer resp.Body.Close()

		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})
}

// buildRequest constructs the upstream request: backend URL plus the
// rewritten path, forwarded headers and identity headers.
func (p *Proxy) buildRequest(ctx context.Context, r *http.Request, rt *router.Route) *http.Request {
	target := *rt.Backend
	target.Path = singleJoiningSlash(rt.Backend.Path, RewriteCollectionPath(r.URL.Path))
	target.RawQuery = r.URL.RawQuery

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &target,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          rt.Backend.Host,
	}).WithContext(ctx)

	proxyReq.Header = make(http.Header, len(r.Header)+8)
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}

	if clientIP := clientIP(r); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	if principal := auth.PrincipalFrom(r.Context()); principal != nil {
		proxyReq.Header.Set("X-Forwarded-User", principal.Username)
		if len(principal.Roles) > 0 {
			proxyReq.Header.Set("X-Forwarded-Roles", strings.Join(principal.Roles, ","))
		}
	}
	if info := tenant.FromContext(r.Context()); info != nil {
		if info.ID != "" {
			proxyReq.Header.Set("X-Tenant-ID", info.ID)
		}
		proxyReq.Header.Set("X-Tenant-Slug", info.Slug)
	}

	removeHopHeaders(proxyReq.Header)
	return proxyReq
}

func (p *Proxy) writeError(w http.ResponseWriter, r *http.Request, rt *router.Route, err error) {
	logging.Warn("upstream request failed",
		zap.String("route_id", rt.ID),
		zap.String("backend", rt.Backend.String()),
		zap.Error(err))

	template := gwerrors.ErrBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		template = gwerrors.ErrGatewayTimeout
	}
	template.
		WithRequest(r.URL.Path, middleware.CorrelationID(r.Context())).
		WriteJSON(w)
}

// RewriteCollectionPath maps the public collection API onto the worker's
// route space: /api/{name}/... becomes /api/collections/{name}/... .
// Paths already under /api/collections/ and non-API paths pass unchanged.
func RewriteCollectionPath(path string) string {
	if !strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, collectionsPrefix) {
		return path
	}
	return collectionsPrefix + strings.TrimPrefix(path, "/api/")
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
