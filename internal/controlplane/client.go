// Package controlplane fetches the gateway's bootstrap configuration: the
// collection routes, registered services, and authorization policies the
// gateway needs before it can serve traffic.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emf-platform/gateway/internal/authz"
	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/registry"
	"go.uber.org/zap"
)

// BootstrapConfig is the control plane's bootstrap response.
type BootstrapConfig struct {
	Collections   []CollectionConfig   `json:"collections"`
	Services      []ServiceConfig      `json:"services"`
	Authorization *AuthorizationConfig `json:"authorization"`
}

// CollectionConfig describes one collection the gateway routes for.
type CollectionConfig struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	WorkerBaseURL string `json:"workerBaseUrl"`
	ServiceID     string `json:"serviceId"`
}

// ServiceConfig describes a registered backend service.
type ServiceConfig struct {
	ServiceID   string `json:"serviceId"`
	ServiceName string `json:"serviceName"`
	BaseURL     string `json:"baseUrl"`
}

// AuthorizationConfig carries per-collection authorization policies.
type AuthorizationConfig struct {
	CollectionAuthz []CollectionAuthz `json:"collectionAuthz"`
}

// CollectionAuthz is the authorization configuration for one collection.
type CollectionAuthz struct {
	CollectionID  string             `json:"collectionId"`
	RoutePolicies []RoutePolicyEntry `json:"routePolicies"`
}

// RoutePolicyEntry grants an operation via a policy whose rules are a JSON
// document of the form {"roles": ["ADMIN"]}.
type RoutePolicyEntry struct {
	Operation   string `json:"operation"`
	PolicyID    string `json:"policyId"`
	PolicyRules string `json:"policyRules"`
}

// Client talks to the control plane's bootstrap endpoint.
type Client struct {
	http          *http.Client
	baseURL       string
	bootstrapPath string
	workerBaseURL string
}

// NewClient creates a bootstrap client. workerBaseURL is the fallback
// backend for collections that do not carry their own worker URL.
func NewClient(baseURL, bootstrapPath, workerBaseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		bootstrapPath: bootstrapPath,
		workerBaseURL: workerBaseURL,
	}
}

// Fetch retrieves the bootstrap configuration.
func (c *Client) Fetch(ctx context.Context) (*BootstrapConfig, error) {
	endpoint := c.baseURL + c.bootstrapPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bootstrap fetch from %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bootstrap fetch from %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	var config BootstrapConfig
	if err := json.NewDecoder(resp.Body).Decode(&config); err != nil {
		return nil, fmt.Errorf("bootstrap decode: %w", err)
	}
	return &config, nil
}

// Bootstrap fetches configuration and loads it into the registry and authz
// cache. Returns the fetched config so callers can warm other caches (the
// service URL table) from it.
func (c *Client) Bootstrap(ctx context.Context, reg *registry.RouteRegistry, cache *authz.ConfigCache) (*BootstrapConfig, error) {
	config, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	valid, invalid := c.loadRoutes(reg, config.Collections)
	warmed := warmAuthzCache(cache, config.Authorization)

	logging.Info("bootstrap configuration loaded",
		zap.Int("routes", valid),
		zap.Int("skipped", invalid),
		zap.Int("authz_configs", warmed),
		zap.Int("services", len(config.Services)))
	return config, nil
}

// loadRoutes converts collections into route definitions and adds the valid
// ones to the registry. Invalid collections are skipped with an error log so
// one bad entry cannot block the rest.
func (c *Client) loadRoutes(reg *registry.RouteRegistry, collections []CollectionConfig) (valid, invalid int) {
	for _, col := range collections {
		def := c.collectionToRoute(col)
		if err := validateRoute(def); err != nil {
			logging.Error("skipping invalid bootstrap collection",
				zap.String("collection_id", col.ID),
				zap.String("collection_name", col.Name),
				zap.Error(err))
			invalid++
			continue
		}
		reg.AddRoute(def)
		valid++
	}
	return valid, invalid
}

func (c *Client) collectionToRoute(col CollectionConfig) *registry.RouteDefinition {
	path := col.Path
	if path != "" && !strings.HasSuffix(path, "/**") && !strings.HasSuffix(path, "/*") {
		path += "/**"
	}

	backend := col.WorkerBaseURL
	if backend == "" {
		backend = c.workerBaseURL
	}

	return &registry.RouteDefinition{
		ID:             col.ID,
		ServiceID:      col.ServiceID,
		Path:           path,
		BackendURL:     backend,
		CollectionName: col.Name,
	}
}

func validateRoute(def *registry.RouteDefinition) error {
	var missing []string
	if def.ID == "" {
		missing = append(missing, "id")
	}
	if def.Path == "" {
		missing = append(missing, "path")
	}
	if def.BackendURL == "" {
		missing = append(missing, "backendUrl")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	// The locator treats an unparseable backend as fatal on refresh, so a
	// malformed bootstrap entry must be dropped here instead of taking the
	// whole route table down with it.
	u, err := url.Parse(def.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backendUrl %q: %w", def.BackendURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("backendUrl %q must be an absolute http(s) URL", def.BackendURL)
	}
	return nil
}

// warmAuthzCache loads per-collection policies so authorization is enforced
// immediately after startup instead of waiting for the first config event.
func warmAuthzCache(cache *authz.ConfigCache, authConfig *AuthorizationConfig) int {
	if cache == nil || authConfig == nil {
		return 0
	}

	warmed := 0
	for _, col := range authConfig.CollectionAuthz {
		if col.CollectionID == "" || len(col.RoutePolicies) == 0 {
			continue
		}

		policies := make([]authz.RoutePolicy, 0, len(col.RoutePolicies))
		for _, entry := range col.RoutePolicies {
			if entry.Operation == "" || entry.PolicyID == "" {
				continue
			}
			policies = append(policies, authz.RoutePolicy{
				Operation: entry.Operation,
				PolicyID:  entry.PolicyID,
				Roles:     RolesFromPolicyRules(entry.PolicyRules),
			})
		}
		if len(policies) == 0 {
			continue
		}

		cache.Update(col.CollectionID, &authz.Config{
			CollectionID:  col.CollectionID,
			RoutePolicies: policies,
		})
		warmed++
	}
	return warmed
}

// RolesFromPolicyRules extracts the role list from a policy rules JSON
// document ({"roles": ["ADMIN", "USER"]}). Malformed rules yield no roles.
func RolesFromPolicyRules(rules string) []string {
	if rules == "" {
		return nil
	}
	var parsed struct {
		Roles []string `json:"roles"`
	}
	if err := json.Unmarshal([]byte(rules), &parsed); err != nil {
		logging.Warn("failed to parse policy rules", zap.String("rules", rules), zap.Error(err))
		return nil
	}
	return parsed.Roles
}
