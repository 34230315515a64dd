package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Capture   CaptureConfig
	Tag       TagConfig
	Sandbox   SandboxConfig
	Storage   StorageConfig
	Catalog   CatalogConfig
	Egress    EgressConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CaptureConfig controls what the observation log records.
type CaptureConfig struct {
	DedupWindow time.Duration `envconfig:"CAPTURE_DEDUP_WINDOW" default:"1s"`
	AllowList   []string      `envconfig:"CAPTURE_ALLOWLIST" default:"google-analytics.com,facebook.com,doubleclick.net,googletagmanager.com"`
}

// TagConfig holds tag manager settings.
type TagConfig struct {
	Prefix     string `envconfig:"TAG_PREFIX" default:"GTM-"`
	ScriptBase string `envconfig:"TAG_SCRIPT_BASE" default:"https://www.googletagmanager.com/gtm.js"`
	FrameBase  string `envconfig:"TAG_FRAME_BASE" default:"https://www.googletagmanager.com/ns.html"`
	CollectURL string `envconfig:"TAG_COLLECT_URL" default:"https://www.google-analytics.com/g/collect"`
}

// SandboxConfig holds isolated frame limits.
type SandboxConfig struct {
	Timeout     time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	LoadTimeout time.Duration `envconfig:"SANDBOX_LOAD_TIMEOUT" default:"10s"`
	MaxConsole  int           `envconfig:"SANDBOX_MAX_CONSOLE" default:"500"`
}

// StorageConfig selects the persisted state backend. An empty path keeps
// state in memory.
type StorageConfig struct {
	Path string `envconfig:"STORAGE_PATH" default:""`
}

// CatalogConfig points at extra challenge definitions.
type CatalogConfig struct {
	Dir string `envconfig:"CATALOG_DIR" default:""`
}

// EgressConfig controls whether captured calls really leave the process.
type EgressConfig struct {
	Offline bool          `envconfig:"EGRESS_OFFLINE" default:"true"`
	Timeout time.Duration `envconfig:"EGRESS_TIMEOUT" default:"10s"`
	Retries int           `envconfig:"EGRESS_RETRIES" default:"1"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Capture: CaptureConfig{
			DedupWindow: time.Second,
			AllowList: []string{
				"google-analytics.com",
				"facebook.com",
				"doubleclick.net",
				"googletagmanager.com",
			},
		},
		Tag: TagConfig{
			Prefix:     "GTM-",
			ScriptBase: "https://www.googletagmanager.com/gtm.js",
			FrameBase:  "https://www.googletagmanager.com/ns.html",
			CollectURL: "https://www.google-analytics.com/g/collect",
		},
		Sandbox: SandboxConfig{
			Timeout:     5 * time.Second,
			LoadTimeout: 10 * time.Second,
			MaxConsole:  500,
		},
		Egress: EgressConfig{
			Offline: true,
			Timeout: 10 * time.Second,
			Retries: 1,
		},
	}
}
