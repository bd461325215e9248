// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration
type Config struct {
	Server   ServerConfig
	Logging  LogConfig
	Renderer RendererConfig
	Bundle   BundleConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// Origin is the host application's own origin, used for the sandbox
	// message origin check
	Origin string `envconfig:"HOST_ORIGIN" default:"https://localhost:8700"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RendererConfig holds rendering pipeline configuration
type RendererConfig struct {
	// DisablePackageRunner turns off the sandboxed-package-runner strategy
	// entirely; artifacts with external imports fall back to direct
	// transpile and surface an import error instead.
	DisablePackageRunner bool          `envconfig:"DISABLE_PACKAGE_RUNNER" default:"false"`
	WatchdogTimeout      time.Duration `envconfig:"WATCHDOG_TIMEOUT" default:"10s"`
	SandboxTimeout       time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
}

// BundleConfig holds bundle fetching configuration
type BundleConfig struct {
	// AllowedOrigins is the storage-origin allow-list. More than one
	// origin is supported so multi-region storage keeps working.
	AllowedOrigins []string `envconfig:"BUNDLE_ALLOWED_ORIGINS" default:"https://artifacts.storage.example.com"`
	PerOriginRefs  int      `envconfig:"BLOB_PER_ORIGIN_LIMIT" default:"64"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration or falls back to defaults
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:   "8700",
			Host:   "0.0.0.0",
			Origin: "https://localhost:8700",
		},
		Logging: LogConfig{Level: "info"},
		Renderer: RendererConfig{
			WatchdogTimeout: 10 * time.Second,
			SandboxTimeout:  5 * time.Second,
		},
		Bundle: BundleConfig{
			AllowedOrigins: []string{"https://artifacts.storage.example.com"},
			PerOriginRefs:  64,
		},
	}
}
