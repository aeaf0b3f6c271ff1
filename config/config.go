package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

// TenantPlaceholder is substituted with the tenant key in URL templates
const TenantPlaceholder = "{tenant}"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	AWS        AWSConfig        `yaml:"aws"`
	Deployment DeploymentConfig `yaml:"deployment"`
	Registry   RegistryConfig   `yaml:"registry"`
	NATS       NATSConfig       `yaml:"nats"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Port    int      `yaml:"port"`
	APIKeys []APIKey `yaml:"api_keys"`
}

type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

type AWSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // LocalStack or other compatible endpoint
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DeploymentConfig struct {
	AppPlaneURLTemplates       map[string]string `yaml:"app_plane_url_templates"` // keyed by tier
	DefaultAppPlaneURLTemplate string            `yaml:"default_app_plane_url_template"`
	AdminPortalURLTemplate     string            `yaml:"admin_portal_url_template"`
	ContainerName              string            `yaml:"container_name"` // empty selects the first container
	SkipHealthCheck            bool              `yaml:"skip_health_check"`
	Stabilization              PollConfig        `yaml:"stabilization"`
	HealthCheck                HealthCheckConfig `yaml:"health_check"`
}

type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type HealthCheckConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout"` // per request
}

type RegistryConfig struct {
	Type         string `yaml:"type"` // "docker", "ecr"
	VerifyImages bool   `yaml:"verify_images"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

type NATSConfig struct {
	URL         string `yaml:"url"` // empty disables tenant events
	Environment string `yaml:"environment"`
	Stream      string `yaml:"stream"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	dataStr := os.ExpandEnv(string(data))

	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "/data/orchestrator.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	d := &c.Deployment
	if d.DefaultAppPlaneURLTemplate == "" {
		d.DefaultAppPlaneURLTemplate = "https://{tenant}.app.example.com"
	}
	if d.AdminPortalURLTemplate == "" {
		d.AdminPortalURLTemplate = "https://admin.example.com/tenants/{tenant}"
	}
	if d.Stabilization.Interval == 0 {
		d.Stabilization.Interval = 10 * time.Second
	}
	if d.Stabilization.MaxAttempts == 0 {
		d.Stabilization.MaxAttempts = 60
	}
	if d.HealthCheck.Interval == 0 {
		d.HealthCheck.Interval = 5 * time.Second
	}
	if d.HealthCheck.MaxAttempts == 0 {
		d.HealthCheck.MaxAttempts = 10
	}
	if d.HealthCheck.Timeout == 0 {
		d.HealthCheck.Timeout = 5 * time.Second
	}

	// Set registry defaults
	if c.Registry.Type == "" {
		c.Registry.Type = "docker"
	}

	if c.NATS.Environment == "" {
		c.NATS.Environment = "dev"
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = strings.ToUpper(c.NATS.Environment) + "_TENANTS"
	}
}

// Validate rejects settings the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Registry.Type != "docker" && c.Registry.Type != "ecr" {
		return fmt.Errorf("invalid registry type %q: must be docker or ecr", c.Registry.Type)
	}
	for tier, tmpl := range c.Deployment.AppPlaneURLTemplates {
		if _, err := models.ParseTier(tier); err != nil {
			return fmt.Errorf("app_plane_url_templates: %w", err)
		}
		if !strings.Contains(tmpl, TenantPlaceholder) {
			return fmt.Errorf("app_plane_url_templates.%s: template must contain %s", tier, TenantPlaceholder)
		}
	}
	if !strings.Contains(c.Deployment.DefaultAppPlaneURLTemplate, TenantPlaceholder) {
		return fmt.Errorf("default_app_plane_url_template must contain %s", TenantPlaceholder)
	}
	if c.Deployment.Stabilization.MaxAttempts < 0 || c.Deployment.HealthCheck.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	return nil
}

// AppPlaneURL builds the externally reachable URL of a tenant's application
func (d *DeploymentConfig) AppPlaneURL(tier models.TenantTier, tenantKey string) string {
	tmpl, ok := d.AppPlaneURLTemplates[string(tier)]
	if !ok || tmpl == "" {
		tmpl = d.DefaultAppPlaneURLTemplate
	}
	return strings.ReplaceAll(tmpl, TenantPlaceholder, tenantKey)
}

// AdminPortalURL builds the tenant's admin portal URL
func (d *DeploymentConfig) AdminPortalURL(tenantKey string) string {
	return strings.ReplaceAll(d.AdminPortalURLTemplate, TenantPlaceholder, tenantKey)
}

func (c *Config) ValidateAPIKey(key string) bool {
	for _, ak := range c.Server.APIKeys {
		if ak.Key == key {
			return true
		}
	}
	return false
}
