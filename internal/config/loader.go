package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables are left as-is so validation can flag them.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}

	if cfg.ControlPlane.URL == "" {
		return fmt.Errorf("control_plane.url is required")
	}
	if err := validateURL("control_plane.url", cfg.ControlPlane.URL); err != nil {
		return err
	}
	if err := validateURL("worker.url", cfg.Worker.URL); err != nil {
		return err
	}

	if cfg.Auth.JWKSURL != "" {
		if err := validateURL("auth.jwks_url", cfg.Auth.JWKSURL); err != nil {
			return err
		}
	} else {
		switch {
		case strings.HasPrefix(cfg.Auth.Algorithm, "HS"):
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.secret is required for algorithm %s", cfg.Auth.Algorithm)
			}
		case strings.HasPrefix(cfg.Auth.Algorithm, "RS"):
			if cfg.Auth.PublicKey == "" {
				return fmt.Errorf("auth.public_key is required for algorithm %s", cfg.Auth.Algorithm)
			}
		default:
			return fmt.Errorf("unsupported auth.algorithm %q", cfg.Auth.Algorithm)
		}
	}

	if cfg.Kafka.Enabled {
		if cfg.Kafka.Brokers == "" {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.GroupID == "" {
			return fmt.Errorf("kafka.group_id is required when kafka is enabled")
		}
		topics := cfg.Kafka.Topics
		if topics.CollectionChanged == "" || topics.ServiceChanged == "" ||
			topics.AuthzChanged == "" || topics.WorkerAssignmentChanged == "" ||
			topics.RecordChanged == "" {
			return fmt.Errorf("all kafka.topics must be set when kafka is enabled")
		}
	}

	if cfg.Security.PermissionsEnabled && !cfg.Redis.Enabled {
		return fmt.Errorf("security.permissions_enabled requires redis.enabled")
	}

	if cfg.IPRateLimit.Enabled && cfg.IPRateLimit.Rate <= 0 {
		return fmt.Errorf("ip_rate_limit.rate must be positive when enabled")
	}

	if cfg.Tenant.Enabled && cfg.Tenant.RefreshInterval <= 0 {
		return fmt.Errorf("tenant.refresh_interval must be positive when tenant extraction is enabled")
	}

	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: URL %q must use http or https", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: URL %q must include a host", field, raw)
	}
	return nil
}
