package authz

import (
	"sync"
)

// RoutePolicy grants an operation on a collection to a set of roles.
type RoutePolicy struct {
	Operation string   `json:"operation"`
	PolicyID  string   `json:"policyId"`
	Roles     []string `json:"roles"`
}

// FieldPolicy restricts a collection field to a set of roles.
type FieldPolicy struct {
	FieldName string   `json:"fieldName"`
	PolicyID  string   `json:"policyId"`
	Roles     []string `json:"roles"`
}

// Config is the authorization configuration for one collection.
type Config struct {
	CollectionID  string        `json:"collectionId"`
	RoutePolicies []RoutePolicy `json:"routePolicies"`
	FieldPolicies []FieldPolicy `json:"fieldPolicies"`
}

// ConfigCache holds per-collection authorization configs, warmed from the
// bootstrap fetch and updated by authz-changed events.
type ConfigCache struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewConfigCache creates an empty cache.
func NewConfigCache() *ConfigCache {
	return &ConfigCache{configs: make(map[string]*Config)}
}

// Update inserts or replaces the config for a collection.
func (c *ConfigCache) Update(collectionID string, cfg *Config) {
	if collectionID == "" || cfg == nil {
		return
	}
	c.mu.Lock()
	c.configs[collectionID] = cfg
	c.mu.Unlock()
}

// Get returns the config for a collection, or nil.
func (c *ConfigCache) Get(collectionID string) *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configs[collectionID]
}

// Remove drops the config for a collection.
func (c *ConfigCache) Remove(collectionID string) {
	c.mu.Lock()
	delete(c.configs, collectionID)
	c.mu.Unlock()
}

// Size returns the number of cached configs.
func (c *ConfigCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.configs)
}

// Snapshot returns a copy of the cached configs keyed by collection ID.
func (c *ConfigCache) Snapshot() map[string]*Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*Config, len(c.configs))
	for id, cfg := range c.configs {
		out[id] = cfg
	}
	return out
}
