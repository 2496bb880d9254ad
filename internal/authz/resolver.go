package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/emf-platform/gateway/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "permissions:"

// Resolver computes effective permissions for a user, checking the Redis
// cache first and falling back to the worker's /internal/permissions
// endpoint.
//
// Fail-open: if Redis or the worker is unreachable, the resolver returns
// the all-permissive set so a permission-system outage never blocks
// traffic.
type Resolver struct {
	redis     *redis.Client
	client    *http.Client
	workerURL string
	cacheTTL  time.Duration
}

// NewResolver creates a permission resolver. redisClient may be nil, in
// which case every resolution goes to the worker.
func NewResolver(redisClient *redis.Client, workerURL string, timeout, cacheTTL time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Resolver{
		redis:     redisClient,
		client:    &http.Client{Timeout: timeout},
		workerURL: workerURL,
		cacheTTL:  cacheTTL,
	}
}

// Resolve returns the effective permissions for the user in the tenant.
// Never returns nil.
func (rs *Resolver) Resolve(ctx context.Context, tenantID, email string) *ResolvedPermissions {
	key := cacheKeyPrefix + tenantID + ":" + email

	if rs.redis != nil {
		if cached, err := rs.redis.Get(ctx, key).Result(); err == nil {
			var perms ResolvedPermissions
			if err := json.Unmarshal([]byte(cached), &perms); err == nil {
				return &perms
			}
			logging.Warn("discarding corrupt permission cache entry", zap.String("key", key))
		}
	}

	perms, err := rs.fetchFromWorker(ctx, tenantID, email)
	if err != nil {
		logging.Warn("permission resolution failed, allowing request",
			zap.String("tenant_id", tenantID),
			zap.String("email", email),
			zap.Error(err))
		return AllPermissive()
	}

	if rs.redis != nil {
		if data, err := json.Marshal(perms); err == nil {
			if err := rs.redis.Set(ctx, key, data, rs.cacheTTL).Err(); err != nil {
				logging.Warn("failed to cache permissions", zap.String("key", key), zap.Error(err))
			}
		}
	}

	return perms
}

// EvictTenant removes all cached permission entries for a tenant. Called
// when an authz-changed event lands so stale grants do not outlive the TTL.
func (rs *Resolver) EvictTenant(ctx context.Context, tenantID string) {
	if rs.redis == nil || tenantID == "" {
		return
	}

	pattern := cacheKeyPrefix + tenantID + ":*"
	iter := rs.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logging.Warn("permission cache scan failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := rs.redis.Del(ctx, keys...).Err(); err != nil {
		logging.Warn("permission cache eviction failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	logging.Info("evicted permission cache entries",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(keys)))
}

func (rs *Resolver) fetchFromWorker(ctx context.Context, tenantID, email string) (*ResolvedPermissions, error) {
	q := url.Values{}
	q.Set("email", email)
	q.Set("tenantId", tenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		rs.workerURL+"/internal/permissions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := rs.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker permissions fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker permissions fetch: unexpected status %d", resp.StatusCode)
	}

	var perms ResolvedPermissions
	if err := json.NewDecoder(resp.Body).Decode(&perms); err != nil {
		return nil, fmt.Errorf("worker permissions decode: %w", err)
	}

	logging.Debug("fetched permissions from worker",
		zap.String("tenant_id", tenantID),
		zap.String("email", email),
		zap.Int("system", len(perms.SystemPermissions)),
		zap.Int("object", len(perms.ObjectPermissions)))

	return &perms, nil
}
