package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emf-platform/gateway/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

func newAuth(t *testing.T) *JWTAuth {
	t.Helper()
	a, err := NewJWTAuth(config.AuthConfig{
		Algorithm:   "HS256",
		Secret:      "test-secret",
		PublicPaths: []string{"/platform/bootstrap"},
	})
	if err != nil {
		t.Fatalf("NewJWTAuth: %v", err)
	}
	return a
}

func bearerRequest(t *testing.T, a *JWTAuth, claims map[string]interface{}) *http.Request {
	t.Helper()
	token, err := a.GenerateToken(claims)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req := httptest.NewRequest("GET", "/api/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAuthenticateValidToken(t *testing.T) {
	a := newAuth(t)
	req := bearerRequest(t, a, map[string]interface{}{
		"sub":   "user-1",
		"email": "user@acme.test",
		"roles": []interface{}{"ADMIN", "USER"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	p, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Username != "user-1" || p.Email != "user@acme.test" {
		t.Errorf("unexpected principal: %+v", p)
	}
	if !p.HasRole("ADMIN") || p.IsPlatformAdmin() {
		t.Errorf("unexpected roles: %v", p.Roles)
	}
}

func TestAuthenticatePreferredUsernameWins(t *testing.T) {
	a := newAuth(t)
	req := bearerRequest(t, a, map[string]interface{}{
		"sub":                "sub-id",
		"preferred_username": "alice",
	})

	p, err := a.Authenticate(req)
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != "alice" {
		t.Errorf("expected preferred_username, got %s", p.Username)
	}
}

func TestAuthenticateAuthoritiesFallback(t *testing.T) {
	a := newAuth(t)
	req := bearerRequest(t, a, map[string]interface{}{
		"sub":         "u",
		"authorities": []interface{}{"PLATFORM_ADMIN"},
	})

	p, err := a.Authenticate(req)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsPlatformAdmin() {
		t.Error("authorities claim should be used when roles is absent")
	}
}

func TestAuthenticateRejections(t *testing.T) {
	a := newAuth(t)

	cases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"missing header", func(r *http.Request) {}},
		{"not bearer", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/users", nil)
			tc.setup(req)
			if _, err := a.Authenticate(req); err == nil {
				t.Error("expected authentication error")
			}
		})
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	a := newAuth(t)
	req := bearerRequest(t, a, map[string]interface{}{
		"sub": "u",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := a.Authenticate(req); err == nil {
		t.Error("expired token must be rejected")
	}
}

func TestAuthenticateWrongSigningMethod(t *testing.T) {
	a := newAuth(t)
	// Token signed with none algorithm
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/api/users", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	if _, err := a.Authenticate(req); err == nil {
		t.Error("alg=none token must be rejected")
	}
}

func TestAuthenticateMissingSubject(t *testing.T) {
	a := newAuth(t)
	req := bearerRequest(t, a, map[string]interface{}{"email": "x@y.z"})
	if _, err := a.Authenticate(req); err == nil {
		t.Error("token without sub or preferred_username must be rejected")
	}
}

func TestAuthenticateIssuerMismatch(t *testing.T) {
	a, err := NewJWTAuth(config.AuthConfig{Algorithm: "HS256", Secret: "test-secret", Issuer: "https://idp.acme"})
	if err != nil {
		t.Fatal(err)
	}
	req := bearerRequest(t, a, map[string]interface{}{"sub": "u", "iss": "https://evil"})
	if _, err := a.Authenticate(req); err == nil {
		t.Error("issuer mismatch must be rejected")
	}
}

func TestMiddlewareUnauthorizedResponse(t *testing.T) {
	a := newAuth(t)
	h := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without valid token")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/users", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 should carry WWW-Authenticate")
	}
}

func TestMiddlewarePassesOptionsPreflight(t *testing.T) {
	a := newAuth(t)
	called := false
	h := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("OPTIONS", "/api/users", nil))
	if !called {
		t.Error("OPTIONS preflight should bypass authentication")
	}
}

func TestMiddlewarePublicPaths(t *testing.T) {
	a := newAuth(t)
	var sawPrincipal *Principal
	h := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawPrincipal = PrincipalFrom(r.Context())
	}))

	// GET on public path passes without principal
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/platform/bootstrap", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("public GET should pass, got %d", rec.Code)
	}
	if sawPrincipal != nil {
		t.Error("public path must not fabricate a principal")
	}

	// POST on public path still requires auth
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/platform/bootstrap", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("public paths are GET/HEAD only, got %d", rec.Code)
	}
}

func TestMiddlewareAttachesPrincipal(t *testing.T) {
	a := newAuth(t)
	var got *Principal
	h := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFrom(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), bearerRequest(t, a, map[string]interface{}{"sub": "u1"}))
	if got == nil || got.Username != "u1" {
		t.Errorf("principal not attached: %+v", got)
	}
}
