package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emf-platform/gateway/internal/authz"
	"github.com/emf-platform/gateway/internal/config"
	"github.com/emf-platform/gateway/internal/controlplane"
	"github.com/emf-platform/gateway/internal/events"
	"github.com/emf-platform/gateway/internal/health"
	"github.com/emf-platform/gateway/internal/logging"
	"github.com/emf-platform/gateway/internal/metrics"
	"github.com/emf-platform/gateway/internal/middleware/auth"
	"github.com/emf-platform/gateway/internal/proxy"
	"github.com/emf-platform/gateway/internal/ratelimit"
	"github.com/emf-platform/gateway/internal/registry"
	"github.com/emf-platform/gateway/internal/router"
	"github.com/emf-platform/gateway/internal/tenant"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// controlPlaneRouteID is the fixed id of the built-in /control/** route
// that forwards control plane API calls through the gateway.
const controlPlaneRouteID = "00000000-0000-0000-0000-000000000100"

// Server owns the gateway's runtime: the proxy listener, the admin
// listener, the Kafka consumer and the background caches.
type Server struct {
	cfg *config.Config

	reg       *registry.RouteRegistry
	locator   *router.Locator
	slugCache *tenant.SlugCache
	authzCfg  *authz.ConfigCache
	handler   *events.Handler
	bootstrap *controlplane.Client
	metrics   *metrics.Metrics

	redisClient *redis.Client
	consumer    *events.Consumer
	ipLimiter   *ratelimit.IPLimiter

	httpServer  *http.Server
	adminServer *http.Server

	cancel context.CancelFunc
}

// NewServer wires the gateway from configuration. It does not touch the
// network; Run performs bootstrap and starts listening.
func NewServer(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	s.reg = registry.New()
	s.locator = router.NewLocator(s.reg)
	s.authzCfg = authz.NewConfigCache()
	s.handler = events.NewHandler(s.reg, s.locator, s.authzCfg)
	s.slugCache = tenant.NewSlugCache(cfg.Worker.URL, cfg.Worker.Timeout)
	s.bootstrap = controlplane.NewClient(
		cfg.ControlPlane.URL, cfg.ControlPlane.BootstrapPath, cfg.Worker.URL, cfg.ControlPlane.Timeout)
	s.metrics = metrics.New()
	s.metrics.RegisterRouteGauge(s.reg.Size)

	if cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	jwtAuth, err := auth.NewJWTAuth(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth setup: %w", err)
	}

	resolver := authz.NewResolver(
		s.redisClient, cfg.Worker.URL, cfg.Worker.Timeout, cfg.Worker.PermissionsCacheTTL)
	s.handler.SetPermissionEvictor(resolver.EvictTenant)
	redisLimiter := ratelimit.NewRedisLimiter(s.redisClient)

	var ipLimiter *ratelimit.IPLimiter
	if cfg.IPRateLimit.Enabled {
		ipLimiter = ratelimit.NewIPLimiter(cfg.IPRateLimit.Rate, cfg.IPRateLimit.Period, cfg.IPRateLimit.Burst)
		s.ipLimiter = ipLimiter
	}

	p := proxy.New(proxy.NewTransport(cfg.Proxy), cfg.Proxy.Timeout)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           Handler(cfg, s.locator, s.slugCache, jwtAuth, resolver, redisLimiter, ipLimiter, s.metrics, p),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           s.adminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

// addControlPlaneRoute installs the built-in /control/** forward to the
// control plane. It runs before the bootstrap attempt so the control plane
// API stays reachable through the gateway even when bootstrap fails.
func (s *Server) addControlPlaneRoute() {
	s.reg.AddRoute(&registry.RouteDefinition{
		ID:             controlPlaneRouteID,
		Path:           "/control/**",
		BackendURL:     s.cfg.ControlPlane.URL,
		CollectionName: "__control-plane",
	})
}

// Start performs bootstrap and brings the listeners up. Bootstrap and the
// slug cache are best-effort: the gateway starts even when the control
// plane or worker is down, and catches up via refresh and Kafka events.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.slugCache.Start(ctx, s.cfg.Tenant.RefreshInterval)

	s.addControlPlaneRoute()

	bootCtx, bootCancel := context.WithTimeout(ctx, s.cfg.ControlPlane.Timeout)
	bootConfig, err := s.bootstrap.Bootstrap(bootCtx, s.reg, s.authzCfg)
	bootCancel()
	if err != nil {
		logging.Error("bootstrap failed, starting with an empty route table", zap.Error(err))
	} else {
		s.handler.WarmServiceURLs(bootConfig.Services)
	}

	if err := s.locator.Refresh(); err != nil {
		return fmt.Errorf("initial route table: %w", err)
	}

	if s.cfg.Kafka.Enabled {
		consumer, err := events.NewConsumer(s.cfg.Kafka, s.handler, s.metrics)
		if err != nil {
			return fmt.Errorf("kafka setup: %w", err)
		}
		s.consumer = consumer
		go consumer.Run(ctx)
	}

	go func() {
		logging.Info("gateway listening", zap.String("address", s.cfg.Server.Address))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("gateway server failed", zap.Error(err))
		}
	}()

	if s.adminServer != nil {
		go func() {
			logging.Info("admin listening", zap.String("address", s.cfg.Admin.Address))
			if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("admin server failed", zap.Error(err))
			}
		}()
	}

	return nil
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logging.Info("shutting down", zap.String("signal", sig.String()))

	return s.Shutdown(s.cfg.Server.ShutdownTimeout)
}

// Shutdown stops the listeners, the Kafka consumer and the background
// refresh loops.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ipLimiter != nil {
		s.ipLimiter.Stop()
	}
	return firstErr
}

// adminHandler serves the internal observability endpoints.
func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Liveness())
	mux.HandleFunc("/readyz", health.Readiness(s.readinessIndicators()...))
	mux.HandleFunc("/routes", s.handleRoutes)
	mux.HandleFunc("/authz", s.handleAuthz)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Server) readinessIndicators() []health.Indicator {
	indicators := []health.Indicator{
		health.NewHTTPIndicator("control-plane", s.cfg.ControlPlane.URL+"/healthz"),
		health.NewHTTPIndicator("worker", s.cfg.Worker.URL+"/healthz"),
	}
	if s.redisClient != nil {
		indicators = append(indicators, health.NewRedisIndicator(s.redisClient))
	}
	if s.cfg.Kafka.Enabled {
		indicators = append(indicators, health.IndicatorFunc{
			IndicatorName: "kafka",
			CheckFn: func(ctx context.Context) error {
				if s.consumer == nil {
					return fmt.Errorf("consumer not started")
				}
				return s.consumer.Health(ctx)
			},
		})
	}
	return indicators
}

type routeInfo struct {
	ID             string `json:"id"`
	Path           string `json:"path"`
	Backend        string `json:"backend"`
	CollectionName string `json:"collectionName,omitempty"`
}

// handleRoutes lists the compiled route table in match order.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := s.locator.Routes()
	out := make([]routeInfo, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeInfo{
			ID:             rt.ID,
			Path:           rt.Path,
			Backend:        rt.Backend.String(),
			CollectionName: rt.CollectionName,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":  len(out),
		"routes": out,
	})
}

// handleAuthz dumps the cached per-collection authorization configs, for
// checking what the gateway has absorbed from bootstrap and Kafka events.
func (s *Server) handleAuthz(w http.ResponseWriter, r *http.Request) {
	configs := s.authzCfg.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":       len(configs),
		"collections": configs,
	})
}
