package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models remindline.yml.
type Config struct {
	Storage struct {
		Driver   string `yaml:"driver"`
		FilesDir string `yaml:"files_dir"`
	} `yaml:"storage"`
	Timezone   string   `yaml:"timezone"`
	Categories []string `yaml:"categories"`
	Telegram   struct {
		Token                string `yaml:"token"`
		APIURL               string `yaml:"api_url"`
		PollTimeoutSeconds   int    `yaml:"poll_timeout_seconds"`
		PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
		ConflictPauseSeconds int    `yaml:"conflict_pause_seconds"`
		ErrorBackoffSeconds  int    `yaml:"error_backoff_seconds"`
	} `yaml:"telegram"`
	Reminders struct {
		CycleSeconds int `yaml:"cycle_seconds"`
	} `yaml:"reminders"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
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
	switch c.Storage.Driver {
	case DriverSQLite, DriverJSON:
	default:
		return fmt.Errorf("config.storage.driver must be %q or %q", DriverSQLite, DriverJSON)
	}
	if strings.TrimSpace(c.Storage.FilesDir) == "" {
		return fmt.Errorf("config.storage.files_dir is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.timezone: %w", err)
	}
	seen := map[string]struct{}{}
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat) == "" {
			return fmt.Errorf("config.categories contains an empty name")
		}
		if _, dup := seen[cat]; dup {
			return fmt.Errorf("config.categories lists %q twice", cat)
		}
		seen[cat] = struct{}{}
	}
	if c.Reminders.CycleSeconds <= 0 {
		return fmt.Errorf("config.reminders.cycle_seconds must be positive")
	}
	if c.Telegram.PollTimeoutSeconds < 0 || c.Telegram.PollIntervalSeconds < 0 ||
		c.Telegram.ConflictPauseSeconds < 0 || c.Telegram.ErrorBackoffSeconds < 0 {
		return fmt.Errorf("config.telegram durations must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Location resolves the timezone used for datetimes without an offset.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c *Config) ReminderCycle() time.Duration {
	return time.Duration(c.Reminders.CycleSeconds) * time.Second
}

// FilesPath resolves files_dir against the workspace.
func (c *Config) FilesPath(workspace string) string {
	if filepath.IsAbs(c.Storage.FilesDir) {
		return c.Storage.FilesDir
	}
	return filepath.Join(workspace, c.Storage.FilesDir)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "remindline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
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

const defaultTemplate = `storage:
  driver: sqlite
  files_dir: task_files

timezone: Local

categories: [Work, Personal, Shopping]

telegram:
  # Set here or through REMINDLINE_TELEGRAM_TOKEN.
  token: ""
  api_url: https://api.telegram.org
  poll_timeout_seconds: 30
  poll_interval_seconds: 5
  conflict_pause_seconds: 5
  error_backoff_seconds: 5

reminders:
  cycle_seconds: 60

server:
  addr: 127.0.0.1:8080
  base_path: /api

webhooks: []
`
