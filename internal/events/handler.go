package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/emf-platform/gateway/internal/authz"
	"github.com/emf-platform/gateway/internal/controlplane"
	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/registry"
	"github.com/emf-platform/gateway/internal/router"
	"go.uber.org/zap"
)

// Handler applies configuration events to the route registry and authz
// cache. One malformed event never stops the consumer: decode and
// validation failures are logged and the event is dropped.
type Handler struct {
	reg     *registry.RouteRegistry
	locator *router.Locator
	cache   *authz.ConfigCache

	mu          sync.RWMutex
	serviceURLs map[string]string
	evictor     func(ctx context.Context, tenantID string)
}

// permissionCollections are the system collections whose records feed the
// permission resolver. A change to any of them invalidates the tenant's
// cached permission snapshots.
var permissionCollections = map[string]bool{
	"profiles":                   true,
	"permission-sets":            true,
	"profile-system-permissions": true,
	"profile-object-permissions": true,
	"profile-field-permissions":  true,
	"permset-system-permissions": true,
	"permset-object-permissions": true,
	"permset-field-permissions":  true,
	"user-permission-sets":       true,
	"group-permission-sets":      true,
	"user-groups":                true,
	"group-memberships":          true,
	"users":                      true,
}

// NewHandler creates an event handler over the gateway's route state.
func NewHandler(reg *registry.RouteRegistry, locator *router.Locator, cache *authz.ConfigCache) *Handler {
	return &Handler{
		reg:         reg,
		locator:     locator,
		cache:       cache,
		serviceURLs: make(map[string]string),
	}
}

// SetPermissionEvictor installs the callback that drops a tenant's cached
// permission snapshots. Set once during wiring, before the consumer starts.
func (h *Handler) SetPermissionEvictor(evict func(ctx context.Context, tenantID string)) {
	h.evictor = evict
}

// HandleRecordChanged reacts to data record changes. Writes to the system
// collections backing the permission model evict the tenant's cached
// permissions; writes to the collections collection itself mean the route
// table may be stale and trigger a refresh.
func (h *Handler) HandleRecordChanged(raw []byte) error {
	var payload RecordChangedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("malformed record change event: %w", err)
	}
	if payload.CollectionName == "" {
		return fmt.Errorf("record change event %s has no collection name", payload.EventID)
	}

	if payload.CollectionName == "collections" {
		logging.Info("collections record changed, refreshing route table",
			zap.String("event_id", payload.EventID),
			zap.String("record_id", payload.RecordID))
		return h.refresh()
	}

	if !permissionCollections[payload.CollectionName] {
		return nil
	}
	if payload.TenantID == "" {
		return fmt.Errorf("record change event %s for %s has no tenant id",
			payload.EventID, payload.CollectionName)
	}
	logging.Info("permission data changed, evicting tenant permissions",
		zap.String("event_id", payload.EventID),
		zap.String("tenant_id", payload.TenantID),
		zap.String("collection", payload.CollectionName))
	if h.evictor != nil {
		h.evictor(context.Background(), payload.TenantID)
	}
	return nil
}

// WarmServiceURLs seeds the service URL table from bootstrap data so
// collection events arriving before any service event can still build
// routes.
func (h *Handler) WarmServiceURLs(services []controlplane.ServiceConfig) {
	h.mu.Lock()
	for _, svc := range services {
		if svc.ServiceID != "" && svc.BaseURL != "" {
			h.serviceURLs[svc.ServiceID] = svc.BaseURL
		}
	}
	h.mu.Unlock()
}

// ServiceURL returns the cached base URL for a service.
func (h *Handler) ServiceURL(serviceID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	url, ok := h.serviceURLs[serviceID]
	return url, ok
}

// HandleCollectionChanged creates, updates or removes the route for a
// collection.
func (h *Handler) HandleCollectionChanged(raw []byte) error {
	event, payload, err := decode[CollectionChangedPayload](raw)
	if err != nil {
		return err
	}
	logging.Info("collection changed event",
		zap.String("event_id", event.EventID),
		zap.String("correlation_id", event.CorrelationID),
		zap.String("collection_id", payload.ID),
		zap.String("change_type", string(payload.ChangeType)))

	if payload.ChangeType == ChangeDeleted {
		h.reg.RemoveRoute(payload.ID)
		return h.refresh()
	}

	if payload.ID == "" || payload.Name == "" || payload.ServiceID == "" {
		return fmt.Errorf("collection event %s missing id, name or serviceId", event.EventID)
	}

	backend, ok := h.ServiceURL(payload.ServiceID)
	if !ok {
		return fmt.Errorf("no cached URL for service %s, cannot build route for collection %s",
			payload.ServiceID, payload.Name)
	}

	h.reg.UpdateRoute(&registry.RouteDefinition{
		ID:             payload.ID,
		ServiceID:      payload.ServiceID,
		Path:           collectionPath(payload.Name),
		BackendURL:     backend,
		CollectionName: payload.Name,
	})
	return h.refresh()
}

// HandleServiceChanged caches the service's base URL, or on delete drops
// the URL and every route pointing at the service.
func (h *Handler) HandleServiceChanged(raw []byte) error {
	event, payload, err := decode[ServiceChangedPayload](raw)
	if err != nil {
		return err
	}
	logging.Info("service changed event",
		zap.String("event_id", event.EventID),
		zap.String("service_id", payload.ServiceID),
		zap.String("change_type", string(payload.ChangeType)))

	if payload.ChangeType == ChangeDeleted {
		removed := h.reg.RemoveByService(payload.ServiceID)
		h.mu.Lock()
		delete(h.serviceURLs, payload.ServiceID)
		h.mu.Unlock()
		logging.Info("removed routes for deleted service",
			zap.String("service_id", payload.ServiceID),
			zap.Int("routes", removed))
		return h.refresh()
	}

	if payload.BasePath == "" {
		return fmt.Errorf("service event %s has no base path", event.EventID)
	}
	h.mu.Lock()
	h.serviceURLs[payload.ServiceID] = payload.BasePath
	h.mu.Unlock()
	return nil
}

// HandleAuthzChanged replaces the collection's authorization config.
func (h *Handler) HandleAuthzChanged(raw []byte) error {
	event, payload, err := decode[AuthzChangedPayload](raw)
	if err != nil {
		return err
	}
	logging.Info("authz changed event",
		zap.String("event_id", event.EventID),
		zap.String("collection_id", payload.CollectionID))

	if payload.CollectionID == "" {
		return fmt.Errorf("authz event %s has no collection id", event.EventID)
	}

	routePolicies := make([]authz.RoutePolicy, 0, len(payload.RoutePolicies))
	for _, rp := range payload.RoutePolicies {
		if rp.Operation == "" || rp.PolicyID == "" {
			continue
		}
		routePolicies = append(routePolicies, authz.RoutePolicy{
			Operation: rp.Operation,
			PolicyID:  rp.PolicyID,
			Roles:     controlplane.RolesFromPolicyRules(rp.PolicyRules),
		})
	}

	fieldPolicies := make([]authz.FieldPolicy, 0, len(payload.FieldPolicies))
	for _, fp := range payload.FieldPolicies {
		if fp.FieldName == "" {
			continue
		}
		fieldPolicies = append(fieldPolicies, authz.FieldPolicy{
			FieldName: fp.FieldName,
			PolicyID:  fp.PolicyID,
			Roles:     controlplane.RolesFromPolicyRules(fp.PolicyRules),
		})
	}

	h.cache.Update(payload.CollectionID, &authz.Config{
		CollectionID:  payload.CollectionID,
		RoutePolicies: routePolicies,
		FieldPolicies: fieldPolicies,
	})
	return nil
}

// HandleWorkerAssignment routes a collection to the worker it was assigned
// to, or removes the route when the assignment is dropped.
func (h *Handler) HandleWorkerAssignment(raw []byte) error {
	event, payload, err := decode[WorkerAssignmentPayload](raw)
	if err != nil {
		return err
	}
	logging.Info("worker assignment event",
		zap.String("event_id", event.EventID),
		zap.String("collection_id", payload.CollectionID),
		zap.String("worker_id", payload.WorkerID),
		zap.String("change_type", string(payload.ChangeType)))

	if payload.ChangeType == ChangeDeleted {
		h.reg.RemoveRoute(payload.CollectionID)
		return h.refresh()
	}

	if payload.CollectionID == "" || payload.CollectionName == "" || payload.WorkerBaseURL == "" {
		return fmt.Errorf("worker assignment event %s missing collection or worker URL", event.EventID)
	}

	h.reg.UpdateRoute(&registry.RouteDefinition{
		ID:             payload.CollectionID,
		ServiceID:      payload.WorkerID,
		Path:           collectionPath(payload.CollectionName),
		BackendURL:     payload.WorkerBaseURL,
		CollectionName: payload.CollectionName,
	})
	return h.refresh()
}

func (h *Handler) refresh() error {
	if h.locator == nil {
		return nil
	}
	if err := h.locator.Refresh(); err != nil {
		return fmt.Errorf("route table refresh after event: %w", err)
	}
	return nil
}

func collectionPath(name string) string {
	return "/api/" + name + "/**"
}

func decode[P any](raw []byte) (*ConfigEvent, *P, error) {
	var event ConfigEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, nil, fmt.Errorf("malformed config event: %w", err)
	}
	if len(event.Payload) == 0 || string(event.Payload) == "null" {
		return nil, nil, fmt.Errorf("config event %s has no payload", event.EventID)
	}
	var payload P
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, nil, fmt.Errorf("malformed payload in event %s: %w", event.EventID, err)
	}
	return &event, &payload, nil
}
