package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models fieldsync.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		// JWTSecret signs and verifies bearer tokens. There is no
		// built-in fallback: outside dev mode an empty secret refuses
		// to start.
		JWTSecret         string `yaml:"jwt_secret"`
		DevMode           bool   `yaml:"dev_mode"`
		AllowLegacyHeader bool   `yaml:"allow_legacy_header"`
	} `yaml:"auth"`
	Storage struct {
		MediaDir string `yaml:"media_dir"`
	} `yaml:"storage"`
	Sync struct {
		MaxBatchSize   int      `yaml:"max_batch_size"`
		ActiveStatuses []string `yaml:"active_statuses"`
	} `yaml:"sync"`
	Worker struct {
		Count int `yaml:"count"`
	} `yaml:"worker"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with fieldsync config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !c.Auth.DevMode && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required outside dev mode")
	}
	if c.Sync.MaxBatchSize < 0 {
		return fmt.Errorf("config.sync.max_batch_size must be >= 0")
	}
	if c.Worker.Count < 0 {
		return fmt.Errorf("config.worker.count must be >= 0")
	}
	for _, s := range c.Sync.ActiveStatuses {
		if s == "" {
			return fmt.Errorf("config.sync.active_statuses contains empty status")
		}
	}
	return nil
}

// ActiveStatuses returns the statuses counted as the open working set.
func (c *Config) ActiveStatuses() []string {
	if len(c.Sync.ActiveStatuses) > 0 {
		return c.Sync.ActiveStatuses
	}
	return []string{"pending", "assigned", "in_progress"}
}

// MediaDir resolves the media storage directory for a workspace.
func (c *Config) MediaDir(workspace string) string {
	if c.Storage.MediaDir != "" {
		return c.Storage.MediaDir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".fieldsync", "media")
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fieldsync.yml")
}

// Default returns the default Config. Dev mode is on so local workspaces
// start without a secret; serve refuses this in production configs.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v1"
	cfg.Auth.DevMode = true
	cfg.Auth.AllowLegacyHeader = true
	cfg.Sync.MaxBatchSize = 500
	cfg.Worker.Count = 2
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML for config init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1

auth:
  # Required outside dev mode; the server refuses to start without it.
  jwt_secret: ""
  dev_mode: true
  allow_legacy_header: true

storage:
  # Defaults to <workspace>/.fieldsync/media when empty.
  media_dir: ""

sync:
  max_batch_size: 500
  active_statuses: [pending, assigned, in_progress]

worker:
  count: 2
`
