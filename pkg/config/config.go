// Package config loads and validates the regressoor configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultHistoryPath is the default location of the history document.
	DefaultHistoryPath = "./reliability_history.json"

	// DefaultNetwork is the default container network name for isolated
	// deployments.
	DefaultNetwork = "regressoor"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultWorkspace is the default directory for isolated revision
	// checkouts.
	DefaultWorkspace = "./.regressoor/workspace"

	// DefaultHealthPath is probed on each service when no explicit health
	// URL is configured.
	DefaultHealthPath = "/health"

	// DefaultPullPolicy is the default image pull policy.
	DefaultPullPolicy = "if-not-present"

	// DefaultReadyTimeout bounds health polling after an isolated deploy.
	DefaultReadyTimeout = 60 * time.Second

	// DefaultReadyWaitAfter is the settle delay once every service
	// answered its health probe.
	DefaultReadyWaitAfter = 5 * time.Second

	// envPrefix scopes environment variable overrides.
	envPrefix = "REGRESSOOR"
)

// Config is the root configuration for regressoor.
type Config struct {
	Global    GlobalConfig    `yaml:"global"`
	History   HistoryConfig   `yaml:"history"`
	Services  []ServiceConfig `yaml:"services"`
	Tests     TestsConfig     `yaml:"tests"`
	Isolation IsolationConfig `yaml:"isolation"`
	Upload    *UploadConfig   `yaml:"upload,omitempty"`
	API       *APIConfig      `yaml:"api,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel         string `yaml:"log_level"`
	ContainerNetwork string `yaml:"container_network"`
	CleanupOnStart   bool   `yaml:"cleanup_on_start"`
}

// HistoryConfig locates the canonical history document.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// ServiceConfig describes one service of the system under test: where to
// probe it, and optionally how to deploy it inside an isolated workspace.
type ServiceConfig struct {
	Name      string           `yaml:"name"`
	BaseURL   string           `yaml:"base_url"`
	HealthURL string           `yaml:"health_url,omitempty"`
	Container *ContainerConfig `yaml:"container,omitempty"`
}

// ContainerConfig describes how to run a service for isolated execution.
type ContainerConfig struct {
	Image       string            `yaml:"image"`
	Entrypoint  []string          `yaml:"entrypoint,omitempty"`
	Command     []string          `yaml:"command,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Memory      string            `yaml:"memory,omitempty"`
	PullPolicy  string            `yaml:"pull_policy,omitempty"`
}

// MemoryBytes parses the human-readable memory limit ("512m", "2g").
// Zero means unlimited.
func (c *ContainerConfig) MemoryBytes() (int64, error) {
	if c.Memory == "" {
		return 0, nil
	}

	bytes, err := units.RAMInBytes(c.Memory)
	if err != nil {
		return 0, fmt.Errorf("parsing memory limit %q: %w", c.Memory, err)
	}

	return bytes, nil
}

// TestsConfig describes the test surface and how to execute it.
type TestsConfig struct {
	// Command is the argv executed to run the test surface. It must write
	// a JSON report to ReportPath.
	Command []string `yaml:"command"`
	// Dir is the working directory for Command, relative to the repo or
	// workspace root.
	Dir string `yaml:"dir,omitempty"`
	// ReportPath is where Command writes its JSON report, relative to Dir.
	ReportPath string `yaml:"report_path"`
	// Overlays are paths copied from the invoking tree into an isolated
	// workspace so the current test surface runs against older revisions.
	Overlays []string `yaml:"overlays,omitempty"`
}

// IsolationConfig controls isolated per-revision execution.
type IsolationConfig struct {
	// RepoPath is the git repository revisions are resolved in.
	RepoPath string `yaml:"repo_path"`
	// Workspace is where revision checkouts are materialized.
	Workspace string `yaml:"workspace"`
	// ReadyTimeout bounds per-service health polling after deploy.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	// ReadyWaitAfter is the settle delay after all services report ready.
	ReadyWaitAfter time.Duration `yaml:"ready_wait_after"`
}

// UploadConfig enables pushing the history document and export artifacts to
// S3-compatible storage.
type UploadConfig struct {
	Enabled         bool   `yaml:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// Load reads and parses a configuration file from the given path, then
// layers environment overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides(newEnv())

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.ContainerNetwork == "" {
		c.Global.ContainerNetwork = DefaultNetwork
	}

	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath
	}

	if c.Isolation.RepoPath == "" {
		c.Isolation.RepoPath = "."
	}

	if c.Isolation.Workspace == "" {
		c.Isolation.Workspace = DefaultWorkspace
	}

	if c.Isolation.ReadyTimeout == 0 {
		c.Isolation.ReadyTimeout = DefaultReadyTimeout
	}

	if c.Isolation.ReadyWaitAfter == 0 {
		c.Isolation.ReadyWaitAfter = DefaultReadyWaitAfter
	}

	for i := range c.Services {
		svc := &c.Services[i]

		if svc.HealthURL == "" && svc.BaseURL != "" {
			svc.HealthURL = strings.TrimSuffix(svc.BaseURL, "/") + DefaultHealthPath
		}

		if svc.Container != nil && svc.Container.PullPolicy == "" {
			svc.Container.PullPolicy = DefaultPullPolicy
		}
	}

	if c.API != nil {
		c.API.applyDefaults()
	}
}

// newEnv builds the viper instance backing environment overrides, e.g.
// REGRESSOOR_HISTORY_PATH or REGRESSOOR_SERVICE_GATEWAY_URL.
func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// applyEnvOverrides lets the environment override the history location, log
// level, and per-service endpoints without editing the config file.
func (c *Config) applyEnvOverrides(v *viper.Viper) {
	if s := v.GetString("history.path"); s != "" {
		c.History.Path = s
	}

	if s := v.GetString("log.level"); s != "" {
		c.Global.LogLevel = s
	}

	for i := range c.Services {
		svc := &c.Services[i]
		key := strings.ToLower(svc.Name)

		if s := v.GetString("service." + key + ".url"); s != "" {
			svc.BaseURL = s
			svc.HealthURL = strings.TrimSuffix(s, "/") + DefaultHealthPath
		}

		if s := v.GetString("service." + key + ".health_url"); s != "" {
			svc.HealthURL = s
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Tests.Command) == 0 {
		return fmt.Errorf("tests.command is required")
	}

	if c.Tests.ReportPath == "" {
		return fmt.Errorf("tests.report_path is required")
	}

	seen := make(map[string]struct{}, len(c.Services))

	for i := range c.Services {
		svc := &c.Services[i]

		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}

		if _, exists := seen[svc.Name]; exists {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}

		seen[svc.Name] = struct{}{}

		if svc.BaseURL == "" && svc.Container == nil {
			return fmt.Errorf("service %q: base_url or container is required", svc.Name)
		}

		if svc.Container != nil {
			if svc.Container.Image == "" {
				return fmt.Errorf("service %q: container.image is required", svc.Name)
			}

			if _, err := svc.Container.MemoryBytes(); err != nil {
				return fmt.Errorf("service %q: %w", svc.Name, err)
			}
		}
	}

	if c.Upload != nil && c.Upload.Enabled && c.Upload.Bucket == "" {
		return fmt.Errorf("upload.bucket is required when upload is enabled")
	}

	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}

// Service returns the service config by name, or nil when unknown.
func (c *Config) Service(name string) *ServiceConfig {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}

	return nil
}
