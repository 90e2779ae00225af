package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models projectflow.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Engine struct {
		Retry         Retry    `yaml:"retry"`
		ReviewerRoles []string `yaml:"reviewer_roles"`
	} `yaml:"engine"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		EventHooks []EventHook `yaml:"event_hooks"`
	} `yaml:"server"`
	Notifications struct {
		Log      bool          `yaml:"log"`
		Timeout  time.Duration `yaml:"timeout"`
		Webhooks []Webhook     `yaml:"webhooks"`
		SNS      struct {
			TopicARN string `yaml:"topic_arn"`
			Region   string `yaml:"region"`
		} `yaml:"sns"`
	} `yaml:"notifications"`
	Outbox struct {
		Path        string `yaml:"path"`
		Schedule    string `yaml:"schedule"`
		MaxAttempts int    `yaml:"max_attempts"`
	} `yaml:"outbox"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

type Retry struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// EventHook streams audit events to an external URL. An empty Events list
// subscribes to every event type.
type EventHook struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type Webhook struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// Load reads and validates config from workspace. A missing file yields Default().
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	r := c.Engine.Retry
	if r.Attempts < 1 {
		return fmt.Errorf("config.engine.retry.attempts must be at least 1")
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < r.InitialBackoff {
		return fmt.Errorf("config.engine.retry backoff must satisfy 0 <= initial_backoff <= max_backoff")
	}
	for _, role := range c.Engine.ReviewerRoles {
		if role == "" {
			return fmt.Errorf("config.engine.reviewer_roles contains an empty role")
		}
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit must not be negative")
	}
	for i, hook := range c.Server.EventHooks {
		if hook.URL == "" {
			return fmt.Errorf("config.server.event_hooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.server.event_hooks[%d].timeout_seconds must not be negative", i)
		}
	}
	for i, wh := range c.Notifications.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
	}
	if c.Notifications.SNS.TopicARN == "" && c.Notifications.SNS.Region != "" {
		return fmt.Errorf("config.notifications.sns.region set without topic_arn")
	}
	if c.Outbox.MaxAttempts < 1 {
		return fmt.Errorf("config.outbox.max_attempts must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level must be debug, info, warn or error")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "projectflow.yml")
}

// OutboxPath resolves the outbox file against the workspace.
func (c *Config) OutboxPath(workspace string) string {
	if filepath.IsAbs(c.Outbox.Path) {
		return c.Outbox.Path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Outbox.Path)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
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

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""

engine:
  retry:
    attempts: 3
    initial_backoff: 50ms
    max_backoff: 1s
  # roles allowed to submit their own project without an approved reservation
  reviewer_roles: [admin, supervisor, lecturer, project_manager]

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  rate_limit:
    rps: 20
    burst: 40
  event_hooks: []

notifications:
  log: true
  timeout: 5s
  webhooks: []
  sns:
    topic_arn: ""
    region: ""

outbox:
  path: .projectflow/outbox.db
  schedule: "@every 30s"
  max_attempts: 10

logging:
  level: info
`
