package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/emf-platform/gateway/internal/logging"
	"go.uber.org/zap"
)

// slugMapPath is the worker endpoint serving the slug → tenant id map.
const slugMapPath = "/internal/tenants/slug-map"

// SlugCache maps tenant slugs to tenant ids. The whole map is swapped
// atomically on refresh, so request filters read without locking. A failed
// refresh keeps the previous map and retries on the next tick.
type SlugCache struct {
	baseURL string
	client  *http.Client
	slugs   atomic.Pointer[map[string]string]
}

// NewSlugCache creates a cache reading from the worker service at baseURL.
func NewSlugCache(baseURL string, timeout time.Duration) *SlugCache {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &SlugCache{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
	empty := map[string]string{}
	c.slugs.Store(&empty)
	return c
}

// Resolve returns the tenant id for a slug, or "" and false if unknown.
func (c *SlugCache) Resolve(slug string) (string, bool) {
	if slug == "" {
		return "", false
	}
	id, ok := (*c.slugs.Load())[slug]
	return id, ok
}

// IsKnownSlug reports whether the slug is in the cache.
func (c *SlugCache) IsKnownSlug(slug string) bool {
	_, ok := c.Resolve(slug)
	return ok
}

// Size returns the number of cached slugs.
func (c *SlugCache) Size() int {
	return len(*c.slugs.Load())
}

// Refresh fetches the slug map and swaps it in.
func (c *SlugCache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+slugMapPath, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slug map fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slug map fetch: unexpected status %d", resp.StatusCode)
	}

	var slugMap map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&slugMap); err != nil {
		return fmt.Errorf("slug map decode: %w", err)
	}

	c.slugs.Store(&slugMap)
	logging.Debug("tenant slug cache refreshed", zap.Int("slugs", len(slugMap)))
	return nil
}

// Start primes the cache and refreshes it on a fixed interval until the
// context is cancelled. Refresh failures are logged and retried on the next
// tick; they never propagate.
func (c *SlugCache) Start(ctx context.Context, interval time.Duration) {
	if err := c.Refresh(ctx); err != nil {
		logging.Warn("initial tenant slug cache refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					logging.Warn("tenant slug cache refresh failed", zap.Error(err))
				}
			}
		}
	}()
}
