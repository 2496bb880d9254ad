package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const keyLookupTimeout = 5 * time.Second

// KeySource serves signing keys from a remote JWKS endpoint. The underlying
// cache refreshes in the background so key rotation at the identity provider
// needs no gateway restart.
type KeySource struct {
	cache   *jwk.Cache
	url     string
	refresh time.Duration
}

// NewKeySource registers the JWKS URL and performs an initial fetch so a
// misconfigured endpoint fails at startup rather than on the first request.
// A non-positive refresh interval defaults to one hour.
func NewKeySource(jwksURL string, refreshInterval time.Duration) (*KeySource, error) {
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("register JWKS url: %w", err)
	}
	if _, err := cache.Refresh(context.Background(), jwksURL); err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &KeySource{cache: cache, url: jwksURL, refresh: refreshInterval}, nil
}

// Keyfunc resolves a token's signing key from the cached set. The key is
// looked up by the kid header; a token without a kid falls back to the only
// key in a single-key set.
func (s *KeySource) Keyfunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), keyLookupTimeout)
		defer cancel()

		set, err := s.cache.Get(ctx, s.url)
		if err != nil {
			return nil, fmt.Errorf("get JWKS: %w", err)
		}

		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			if set.Len() == 0 {
				return nil, fmt.Errorf("token has no kid and JWKS is empty")
			}
			key, _ := set.Key(0)
			var raw interface{}
			if err := key.Raw(&raw); err != nil {
				return nil, fmt.Errorf("extract raw key: %w", err)
			}
			return raw, nil
		}

		key, found := set.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key %q not in JWKS", kid)
		}
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("extract raw key for kid %q: %w", kid, err)
		}
		return raw, nil
	}
}
