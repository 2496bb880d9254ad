package authz

import (
	"net/http"
	"strings"

	"github.com/emf-platform/gateway/internal/errors"
	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/middleware"
	"github.com/emf-platform/gateway/internal/middleware/auth"
	"github.com/emf-platform/gateway/internal/tenant"
	"go.uber.org/zap"
)

// CollectionLookup maps a request path to the collection it serves,
// returning the collection id and display name. Object permissions are
// keyed by collection id, so the id drives the check; the name is only
// for error messages. Both are empty when the path does not belong to a
// collection route.
type CollectionLookup func(path string) (id, name string)

// Resolution returns middleware that attaches resolved permissions to the
// request context. When disabled it is a pass-through. Platform admins get
// the all-permissive set without touching Redis or the worker.
func Resolution(resolver *Resolver, enabled bool) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.PrincipalFrom(r.Context())
			if principal == nil {
				next.ServeHTTP(w, r)
				return
			}
			info := tenant.FromContext(r.Context())
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}

			var perms *ResolvedPermissions
			if principal.IsPlatformAdmin() {
				perms = AllPermissive()
			} else {
				perms = resolver.Resolve(r.Context(), info.ID, principal.Email)
			}
			next.ServeHTTP(w, r.WithContext(WithPermissions(r.Context(), perms)))
		})
	}
}

// RouteAuthorization returns middleware enforcing collection-level access.
// Requests without an authenticated principal are rejected outright; the
// permission checks themselves only apply to /api/ paths when enforcement
// is enabled.
func RouteAuthorization(lookup CollectionLookup, enabled bool, publicPaths []string) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublicPath(r.URL.Path, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			principal := auth.PrincipalFrom(r.Context())
			if principal == nil {
				writeForbidden(w, r, "Authentication required")
				return
			}

			if !enabled || !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			perms := PermissionsFrom(r.Context())
			if perms == nil || perms.AllPermissive {
				next.ServeHTTP(w, r)
				return
			}

			if !perms.HasSystemPermission(PermAPIAccess) {
				logging.Debug("api access denied",
					zap.String("user", principal.Username),
					zap.String("path", r.URL.Path))
				writeForbidden(w, r, "API access denied")
				return
			}

			collectionID, collectionName := lookup(r.URL.Path)
			if collectionID == "" {
				next.ServeHTTP(w, r)
				return
			}
			if collectionName == "" {
				collectionName = collectionID
			}

			if !allowed(perms, collectionID, r.Method) {
				writeForbidden(w, r, "Insufficient permissions for "+r.Method+" on "+collectionName)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowed maps the HTTP method to the object permission it requires,
// honoring the view-all and modify-all overrides.
func allowed(perms *ResolvedPermissions, collectionID, method string) bool {
	op := perms.ForCollection(collectionID)
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return op.CanRead || perms.HasSystemPermission(PermViewAllData)
	case http.MethodPost:
		return op.CanCreate || perms.HasSystemPermission(PermModifyAllData)
	case http.MethodPut, http.MethodPatch:
		return op.CanEdit || perms.HasSystemPermission(PermModifyAllData)
	case http.MethodDelete:
		return op.CanDelete || perms.HasSystemPermission(PermModifyAllData)
	default:
		return false
	}
}

func isPublicPath(path string, publicPaths []string) bool {
	for _, p := range publicPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func writeForbidden(w http.ResponseWriter, r *http.Request, message string) {
	errors.ErrForbidden.
		WithMessage(message).
		WithRequest(r.URL.Path, middleware.CorrelationID(r.Context())).
		WriteJSON(w)
}
