package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models adoptline.yml.
type Config struct {
	Database struct {
		Driver    string `yaml:"driver" json:"driver"`
		DSN       string `yaml:"dsn" json:"dsn,omitempty"`
		Workspace string `yaml:"workspace" json:"workspace,omitempty"`
	} `yaml:"database" json:"database"`
	Engine struct {
		MaxTxAttempts  int `yaml:"max_tx_attempts" json:"max_tx_attempts"`
		RetryBackoffMS int `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	} `yaml:"engine" json:"engine"`
	Documents struct {
		Driver string `yaml:"driver" json:"driver"`
		Dir    string `yaml:"dir" json:"dir,omitempty"`
		S3     S3     `yaml:"s3" json:"s3"`
	} `yaml:"documents" json:"documents"`
	Notifications struct {
		Driver      string  `yaml:"driver" json:"driver"`
		Webhook     Webhook `yaml:"webhook" json:"webhook"`
		QueueSize   int     `yaml:"queue_size" json:"queue_size"`
		Workers     int     `yaml:"workers" json:"workers"`
		MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	} `yaml:"notifications" json:"notifications"`
	Directory struct {
		Driver string                   `yaml:"driver" json:"driver"`
		Users  map[string]DirectoryUser `yaml:"users" json:"users,omitempty"`
		HTTP   struct {
			BaseURL        string `yaml:"base_url" json:"base_url,omitempty"`
			TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
		} `yaml:"http" json:"http"`
	} `yaml:"directory" json:"directory"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
		// JWTSecret signs and verifies bearer tokens (HS256).
		JWTSecret        string `yaml:"jwt_secret" json:"-"`
		AllowActorHeader bool   `yaml:"allow_actor_header" json:"allow_actor_header"`
		DevLogin         bool   `yaml:"dev_login" json:"dev_login"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

type S3 struct {
	Bucket    string `yaml:"bucket" json:"bucket,omitempty"`
	Region    string `yaml:"region" json:"region,omitempty"`
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
	Prefix    string `yaml:"prefix" json:"prefix,omitempty"`
	PathStyle bool   `yaml:"path_style" json:"path_style"`
}

type Webhook struct {
	URL            string `yaml:"url" json:"url,omitempty"`
	Secret         string `yaml:"secret" json:"-"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

type DirectoryUser struct {
	DisplayName string `yaml:"display_name" json:"display_name"`
	Contact     string `yaml:"contact" json:"contact"`
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
	if c.Engine.MaxTxAttempts < 1 {
		return fmt.Errorf("config.engine.max_tx_attempts must be at least 1")
	}
	if c.Engine.RetryBackoffMS < 0 {
		return fmt.Errorf("config.engine.retry_backoff_ms must not be negative")
	}
	switch c.Documents.Driver {
	case "none":
	case "fs":
		if c.Documents.Dir == "" {
			return fmt.Errorf("config.documents.dir is required for fs driver")
		}
	case "s3":
		if c.Documents.S3.Bucket == "" {
			return fmt.Errorf("config.documents.s3.bucket is required for s3 driver")
		}
	default:
		return fmt.Errorf("config.documents.driver must be none, fs or s3, got %q", c.Documents.Driver)
	}
	switch c.Notifications.Driver {
	case "none", "log":
	case "webhook":
		if strings.TrimSpace(c.Notifications.Webhook.URL) == "" {
			return fmt.Errorf("config.notifications.webhook.url is required for webhook driver")
		}
	default:
		return fmt.Errorf("config.notifications.driver must be none, log or webhook, got %q", c.Notifications.Driver)
	}
	if c.Notifications.QueueSize < 1 || c.Notifications.Workers < 1 || c.Notifications.MaxAttempts < 1 {
		return fmt.Errorf("config.notifications queue_size, workers and max_attempts must be positive")
	}
	switch c.Directory.Driver {
	case "static":
		for id, u := range c.Directory.Users {
			if id == "" {
				return fmt.Errorf("config.directory.users contains empty user id")
			}
			if u.DisplayName == "" {
				return fmt.Errorf("directory user %s has empty display_name", id)
			}
		}
	case "http":
		if c.Directory.HTTP.BaseURL == "" {
			return fmt.Errorf("config.directory.http.base_url is required for http driver")
		}
	default:
		return fmt.Errorf("config.directory.driver must be static or http, got %q", c.Directory.Driver)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.DevLogin && c.Server.JWTSecret == "" {
		return fmt.Errorf("config.server.dev_login requires config.server.jwt_secret")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "adoptline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with al config init", path)
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
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
  workspace: .

engine:
  max_tx_attempts: 3
  retry_backoff_ms: 20

documents:
  driver: fs
  dir: .adoptline/documents
  s3:
    region: us-east-1
    prefix: adoptions

notifications:
  driver: log
  queue_size: 256
  workers: 2
  max_attempts: 4
  webhook:
    timeout_seconds: 5

directory:
  driver: static
  http:
    timeout_seconds: 5

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_actor_header: true
  dev_login: false

log:
  level: info
  format: text
`
