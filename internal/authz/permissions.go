package authz

import (
	"context"
)

// System permission names checked by the route authorization filter.
const (
	PermAPIAccess     = "API_ACCESS"
	PermViewAllData   = "VIEW_ALL_DATA"
	PermModifyAllData = "MODIFY_ALL_DATA"
)

// ObjectPermissions are per-collection CRUD grants.
type ObjectPermissions struct {
	CanCreate    bool `json:"canCreate"`
	CanRead      bool `json:"canRead"`
	CanEdit      bool `json:"canEdit"`
	CanDelete    bool `json:"canDelete"`
	CanViewAll   bool `json:"canViewAll"`
	CanModifyAll bool `json:"canModifyAll"`
}

// ResolvedPermissions is the per-request permission set computed from
// principal and tenant. Never persisted; attached to the request context
// for the authorization filter.
type ResolvedPermissions struct {
	UserID            string                       `json:"userId,omitempty"`
	AllPermissive     bool                         `json:"allPermissive,omitempty"`
	SystemPermissions map[string]bool              `json:"systemPermissions,omitempty"`
	ObjectPermissions map[string]ObjectPermissions `json:"objectPermissions,omitempty"`
}

// AllPermissive returns the permission set granted to platform admins and
// used as the fail-open fallback when resolution is unavailable.
func AllPermissive() *ResolvedPermissions {
	return &ResolvedPermissions{AllPermissive: true}
}

// HasSystemPermission reports whether the named system permission is
// granted. All-permissive sets grant everything.
func (p *ResolvedPermissions) HasSystemPermission(name string) bool {
	if p.AllPermissive {
		return true
	}
	return p.SystemPermissions[name]
}

// ForCollection returns the object permissions for a collection id. Missing
// entries deny everything (unless the set is all-permissive, which callers
// check first).
func (p *ResolvedPermissions) ForCollection(collectionID string) ObjectPermissions {
	return p.ObjectPermissions[collectionID]
}

type permissionsKey struct{}

// WithPermissions attaches resolved permissions to a request context.
func WithPermissions(ctx context.Context, p *ResolvedPermissions) context.Context {
	return context.WithValue(ctx, permissionsKey{}, p)
}

// PermissionsFrom returns the resolved permissions, or nil when the
// resolution filter did not run.
func PermissionsFrom(ctx context.Context) *ResolvedPermissions {
	p, _ := ctx.Value(permissionsKey{}).(*ResolvedPermissions)
	return p
}
