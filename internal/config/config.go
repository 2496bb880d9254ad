package config

import (
	"time"
)

// Config is the root gateway configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Admin        AdminConfig        `yaml:"admin"`
	Logging      LoggingConfig      `yaml:"logging"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Worker       WorkerConfig       `yaml:"worker"`
	Tenant       TenantConfig       `yaml:"tenant"`
	Auth         AuthConfig         `yaml:"auth"`
	Security     SecurityConfig     `yaml:"security"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	IPRateLimit  IPRateLimitConfig  `yaml:"ip_rate_limit"`
	Proxy        ProxyConfig        `yaml:"proxy"`
}

// ServerConfig configures the main proxy listener.
type ServerConfig struct {
	Address           string        `yaml:"address"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AdminConfig configures the internal admin/observability listener.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ControlPlaneConfig locates the control-plane bootstrap endpoint.
type ControlPlaneConfig struct {
	URL           string        `yaml:"url"`
	BootstrapPath string        `yaml:"bootstrap_path"`
	Timeout       time.Duration `yaml:"timeout"`
}

// WorkerConfig locates the worker service used for permission resolution,
// tenant slug lookups, and as the default route backend.
type WorkerConfig struct {
	URL                 string        `yaml:"url"`
	Timeout             time.Duration `yaml:"timeout"`
	PermissionsCacheTTL time.Duration `yaml:"permissions_cache_ttl"`
}

// TenantConfig configures tenant slug extraction.
type TenantConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RequirePrefix   bool          `yaml:"require_prefix"`
	PlatformPaths   []string      `yaml:"platform_paths"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// AuthConfig configures JWT validation. When JWKSURL is set, signing keys
// come from the JWKS endpoint and the static secret/public key are ignored.
type AuthConfig struct {
	Algorithm           string        `yaml:"algorithm"`
	Secret              string        `yaml:"secret"`
	PublicKey           string        `yaml:"public_key"`
	JWKSURL             string        `yaml:"jwks_url"`
	JWKSRefreshInterval time.Duration `yaml:"jwks_refresh_interval"`
	Issuer              string        `yaml:"issuer"`
	Audience            []string      `yaml:"audience"`
	PublicPaths         []string      `yaml:"public_paths"`
}

// SecurityConfig holds authorization feature flags.
type SecurityConfig struct {
	PermissionsEnabled bool `yaml:"permissions_enabled"`
}

// KafkaConfig configures the configuration-event consumer.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers string      `yaml:"brokers"`
	GroupID string      `yaml:"group_id"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics names the configuration-change topics.
type KafkaTopics struct {
	CollectionChanged       string `yaml:"collection_changed"`
	ServiceChanged          string `yaml:"service_changed"`
	AuthzChanged            string `yaml:"authz_changed"`
	WorkerAssignmentChanged string `yaml:"worker_assignment_changed"`
	RecordChanged           string `yaml:"record_changed"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// IPRateLimitConfig configures the per-client-IP limiter applied before
// authentication.
type IPRateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Rate    int           `yaml:"rate"`
	Period  time.Duration `yaml:"period"`
	Burst   int           `yaml:"burst"`
}

// ProxyConfig tunes the upstream HTTP transport.
type ProxyConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		ControlPlane: ControlPlaneConfig{
			BootstrapPath: "/bootstrap",
			Timeout:       10 * time.Second,
		},
		Worker: WorkerConfig{
			URL:                 "http://emf-worker:80",
			Timeout:             5 * time.Second,
			PermissionsCacheTTL: 5 * time.Minute,
		},
		Tenant: TenantConfig{
			Enabled:         true,
			RequirePrefix:   false,
			PlatformPaths:   []string{"/healthz", "/readyz", "/metrics", "/platform"},
			RefreshInterval: time.Minute,
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
		Kafka: KafkaConfig{
			Topics: KafkaTopics{
				CollectionChanged:       "emf.config.collection-changed",
				ServiceChanged:          "emf.config.service-changed",
				AuthzChanged:            "emf.config.authz-changed",
				WorkerAssignmentChanged: "emf.worker.assignment.changed",
				RecordChanged:           "emf.record.changed",
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		IPRateLimit: IPRateLimitConfig{
			Rate:   100,
			Period: time.Second,
		},
		Proxy: ProxyConfig{
			Timeout:             30 * time.Second,
			MaxIdleConns:        512,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
