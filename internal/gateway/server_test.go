package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emf-platform/gateway/internal/authz"
	"github.com/emf-platform/gateway/internal/config"
	"github.com/emf-platform/gateway/internal/metrics"
	"github.com/emf-platform/gateway/internal/registry"
	"github.com/emf-platform/gateway/internal/router"
)

func adminServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New()
	reg.AddRoute(&registry.RouteDefinition{
		ID:             "col-orders",
		Path:           "/api/orders/**",
		BackendURL:     "http://orders-worker:8080",
		CollectionName: "orders",
	})
	locator := router.NewLocator(reg)
	if err := locator.Refresh(); err != nil {
		t.Fatal(err)
	}

	authzCfg := authz.NewConfigCache()
	authzCfg.Update("col-orders", &authz.Config{
		CollectionID: "col-orders",
		RoutePolicies: []authz.RoutePolicy{
			{Operation: "READ", PolicyID: "p1", Roles: []string{"USER"}},
		},
	})

	return &Server{
		cfg:      config.DefaultConfig(),
		reg:      reg,
		locator:  locator,
		authzCfg: authzCfg,
		metrics:  metrics.New(),
	}
}

func TestAdminRoutes(t *testing.T) {
	s := adminServer(t)
	rec := httptest.NewRecorder()
	s.adminHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/routes", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count  int `json:"count"`
		Routes []struct {
			ID      string `json:"id"`
			Path    string `json:"path"`
			Backend string `json:"backend"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || len(body.Routes) != 1 {
		t.Fatalf("count = %d, routes = %d", body.Count, len(body.Routes))
	}
	if body.Routes[0].ID != "col-orders" || body.Routes[0].Backend != "http://orders-worker:8080" {
		t.Errorf("route = %+v", body.Routes[0])
	}
}

func TestAdminAuthz(t *testing.T) {
	s := adminServer(t)
	rec := httptest.NewRecorder()
	s.adminHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/authz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count       int                      `json:"count"`
		Collections map[string]*authz.Config `json:"collections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d", body.Count)
	}
	cfg := body.Collections["col-orders"]
	if cfg == nil || len(cfg.RoutePolicies) != 1 || cfg.RoutePolicies[0].Roles[0] != "USER" {
		t.Errorf("collections = %+v", body.Collections)
	}
}

func TestAdminLiveness(t *testing.T) {
	s := adminServer(t)
	rec := httptest.NewRecorder()
	s.adminHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "UP" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestAdminMetricsEndpoint(t *testing.T) {
	s := adminServer(t)
	s.metrics.RecordRequest("col-orders", "GET", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	s.adminHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected prometheus exposition output")
	}
}

func TestControlPlaneRouteAlwaysPresent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ControlPlane.URL = "http://control-plane:8081"

	// An empty registry stands in for a failed bootstrap.
	s := &Server{cfg: cfg, reg: registry.New()}
	s.locator = router.NewLocator(s.reg)
	s.addControlPlaneRoute()
	if err := s.locator.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rt := s.locator.Match("/control/collections/col-1")
	if rt == nil {
		t.Fatal("expected /control/** to match the built-in route")
	}
	if rt.ID != controlPlaneRouteID {
		t.Errorf("route id = %q", rt.ID)
	}
	if rt.Backend.String() != "http://control-plane:8081" {
		t.Errorf("backend = %q, want the control plane URL", rt.Backend)
	}
	if rt.CollectionName != "__control-plane" {
		t.Errorf("collection name = %q", rt.CollectionName)
	}
}
