package auth

import (
	"context"
	"slices"
)

// PlatformAdminRole bypasses permission resolution with an all-permissive
// result.
const PlatformAdminRole = "PLATFORM_ADMIN"

// Principal is the authenticated identity extracted from a validated JWT.
type Principal struct {
	Username string
	Email    string
	Roles    []string
	Claims   map[string]interface{}
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// IsPlatformAdmin reports whether the principal is a platform administrator.
func (p *Principal) IsPlatformAdmin() bool {
	return p.HasRole(PlatformAdminRole)
}

type principalKey struct{}

// WithPrincipal stores the principal in a context for downstream filters.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom retrieves the authenticated principal, or nil when the
// request was not authenticated.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
