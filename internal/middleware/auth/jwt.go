package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/emf-platform/gateway/internal/config"
	"github.com/emf-platform/gateway/internal/errors"
	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTAuth validates bearer tokens and attaches the extracted principal to
// the request context.
type JWTAuth struct {
	secret      []byte
	publicKey   *rsa.PublicKey
	issuer      string
	audience    []string
	algorithm   string
	keyFunc     jwt.Keyfunc
	publicPaths []string
}

// NewJWTAuth creates a JWT authenticator from configuration.
func NewJWTAuth(cfg config.AuthConfig) (*JWTAuth, error) {
	a := &JWTAuth{
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		algorithm:   cfg.Algorithm,
		publicPaths: cfg.PublicPaths,
	}

	if a.algorithm == "" {
		a.algorithm = "HS256"
	}

	if cfg.JWKSURL != "" {
		source, err := NewKeySource(cfg.JWKSURL, cfg.JWKSRefreshInterval)
		if err != nil {
			return nil, fmt.Errorf("jwks setup: %w", err)
		}
		a.keyFunc = source.Keyfunc()
		return a, nil
	}

	switch {
	case strings.HasPrefix(a.algorithm, "HS"):
		a.secret = []byte(cfg.Secret)
		a.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		}
	case strings.HasPrefix(a.algorithm, "RS"):
		block, _ := pem.Decode([]byte(cfg.PublicKey))
		if block == nil {
			return nil, fmt.Errorf("failed to parse PEM block containing public key")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not an RSA key")
		}
		a.publicKey = rsaPub
		a.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.publicKey, nil
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", a.algorithm)
	}

	return a, nil
}

// Authenticate verifies the request's bearer token and returns the
// principal.
func (a *JWTAuth) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errors.ErrUnauthorized.WithMessage("Missing Authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.ErrUnauthorized.WithMessage("Invalid Authorization header format. Expected 'Bearer <token>'")
	}
	tokenString := header[len("Bearer "):]

	token, err := jwt.Parse(tokenString, a.keyFunc)
	if err != nil || !token.Valid {
		return nil, errors.ErrUnauthorized.WithMessage("Invalid or expired JWT token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.ErrUnauthorized.WithMessage("Invalid token claims")
	}

	if a.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != a.issuer {
			return nil, errors.ErrUnauthorized.WithMessage("Invalid token issuer")
		}
	}
	if len(a.audience) > 0 {
		aud, _ := claims.GetAudience()
		if !a.containsAudience(aud) {
			return nil, errors.ErrUnauthorized.WithMessage("Invalid token audience")
		}
	}

	return extractPrincipal(claims)
}

// extractPrincipal builds a Principal from validated claims. The username
// comes from preferred_username falling back to sub; roles from the roles
// claim falling back to authorities.
func extractPrincipal(claims jwt.MapClaims) (*Principal, error) {
	username, _ := claims["preferred_username"].(string)
	if username == "" {
		username, _ = claims["sub"].(string)
	}
	if username == "" {
		return nil, errors.ErrUnauthorized.WithMessage("JWT must contain either 'preferred_username' or 'sub' claim")
	}

	email, _ := claims["email"].(string)
	if email == "" {
		email = username
	}

	roles := stringSlice(claims["roles"])
	if len(roles) == 0 {
		roles = stringSlice(claims["authorities"])
	}

	claimsMap := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		claimsMap[k] = v
	}

	return &Principal{
		Username: username,
		Email:    email,
		Roles:    roles,
		Claims:   claimsMap,
	}, nil
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a *JWTAuth) containsAudience(tokenAud []string) bool {
	for _, ta := range tokenAud {
		for _, ea := range a.audience {
			if ta == ea {
				return true
			}
		}
	}
	return false
}

// isPublic reports whether the request may pass unauthenticated: GET/HEAD
// on configured public path prefixes.
func (a *JWTAuth) isPublic(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	for _, prefix := range a.publicPaths {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// Middleware returns the authentication filter. CORS preflight and public
// paths pass through without a principal; everything else needs a valid
// bearer token.
func (a *JWTAuth) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Browsers send OPTIONS preflight without credentials
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if a.isPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := a.Authenticate(r)
			if err != nil {
				ge, ok := errors.AsGatewayError(err)
				if !ok {
					ge = errors.ErrUnauthorized
				}
				logging.Warn("authentication failed",
					zap.String("path", r.URL.Path),
					zap.String("reason", ge.Message))
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				ge.WithRequest(r.URL.Path, middleware.CorrelationID(r.Context())).WriteJSON(w)
				return
			}

			logging.Debug("authenticated user",
				zap.String("username", principal.Username),
				zap.String("path", r.URL.Path))

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// GenerateToken signs a token with the configured HMAC secret. Test helper.
func (a *JWTAuth) GenerateToken(claims map[string]interface{}) (string, error) {
	if !strings.HasPrefix(a.algorithm, "HS") {
		return "", fmt.Errorf("token generation requires an HMAC algorithm, have %s", a.algorithm)
	}
	mapClaims := jwt.MapClaims{}
	for k, v := range claims {
		mapClaims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	return token.SignedString(a.secret)
}
