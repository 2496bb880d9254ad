package tenant

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/emf-platform/gateway/internal/config"
	"github.com/emf-platform/gateway/internal/errors"
	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/middleware"
	"go.uber.org/zap"
)

// slugPattern matches the tenant entity's slug validation.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,61}[a-z0-9]$`)

// Info is the resolved tenant context for a request. ID is empty when the
// slug matched the pattern but was not in the cache.
type Info struct {
	ID   string
	Slug string
}

type infoKey struct{}

// WithInfo attaches tenant info to a context.
func WithInfo(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// FromContext returns the tenant info for a request, or nil when no slug
// was extracted.
func FromContext(ctx context.Context) *Info {
	v, _ := ctx.Value(infoKey{}).(*Info)
	return v
}

// Extractor strips the leading tenant slug segment from request paths and
// resolves it to a tenant id. It runs before authentication and route
// matching so both see bare paths like /api/users.
type Extractor struct {
	cache         *SlugCache
	requirePrefix bool
	platformPaths []string
}

// NewExtractor creates the slug extraction filter.
func NewExtractor(cache *SlugCache, cfg config.TenantConfig) *Extractor {
	return &Extractor{
		cache:         cache,
		requirePrefix: cfg.RequirePrefix,
		platformPaths: cfg.PlatformPaths,
	}
}

// Middleware returns the extraction filter.
//
// Incoming /{slug}/api/users/123 is rewritten to /api/users/123 with tenant
// info on the context. Platform paths bypass entirely. Without
// require_prefix (migration mode), bare paths pass through unchanged.
func (e *Extractor) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			if e.isPlatformPath(path) {
				next.ServeHTTP(w, r)
				return
			}

			first := firstSegment(path)
			if first == "" {
				if e.requirePrefix {
					e.tenantNotFound(w, r, "A tenant identifier is required in the URL path.")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// "api" and "control" are route prefixes, never tenant slugs;
			// bare /api/** and /control/** paths must reach route matching
			// untouched.
			if first == "api" || first == "control" {
				next.ServeHTTP(w, r)
				return
			}

			if !slugPattern.MatchString(first) {
				// Not a slug-shaped segment; pass through in migration mode
				if e.requirePrefix {
					e.tenantNotFound(w, r, "Invalid tenant identifier: "+first)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Strip the slug regardless of cache hit so route matching
			// always sees bare paths.
			stripped := strings.TrimPrefix(path, "/"+first)
			if stripped == "" {
				stripped = "/"
			}

			info := &Info{Slug: first}
			if id, ok := e.cache.Resolve(first); ok {
				info.ID = id
			} else {
				if e.requirePrefix {
					e.tenantNotFound(w, r, "Tenant not found: "+first)
					return
				}
				logging.Warn("slug matches pattern but is not in cache, stripping path without tenant context",
					zap.String("slug", first))
			}

			r2 := r.Clone(context.WithValue(r.Context(), infoKey{}, info))
			r2.URL.Path = stripped
			if r.URL.RawPath != "" {
				r2.URL.RawPath = strings.TrimPrefix(r.URL.RawPath, "/"+first)
			}

			next.ServeHTTP(w, r2)
		})
	}
}

func (e *Extractor) isPlatformPath(path string) bool {
	for _, prefix := range e.platformPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (e *Extractor) tenantNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	errors.ErrTenantNotFound.
		WithMessage(detail).
		WithRequest(r.URL.Path, middleware.CorrelationID(r.Context())).
		WriteJSON(w)
}

// firstSegment extracts the first non-empty path segment.
// "/acme/api/users" yields "acme"; "/" yields "".
func firstSegment(path string) string {
	if len(path) <= 1 {
		return ""
	}
	rest := path[1:]
	if i := strings.IndexByte(rest, '/'); i > 0 {
		return rest[:i]
	} else if i == -1 {
		return rest
	}
	return ""
}
