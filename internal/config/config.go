// Package config loads and validates the service configuration from YAML,
// with environment overrides for secrets and deploy-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/datalumen/schemactx/internal/catalog"
	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/schema"
)

// Duration wraps time.Duration so YAML values like "15m" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Intent    IntentConfig    `yaml:"intent"`
	LLM       LLMConfig       `yaml:"llm"`
	Builder   BuilderConfig   `yaml:"builder"`
	Server    ServerConfig    `yaml:"server"`
	Entities  []Entity        `yaml:"entities"`
}

// LogConfig selects logger behavior.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DatabaseConfig points at the metadata source.
type DatabaseConfig struct {
	Driver         string   `yaml:"driver"` // postgres, mysql
	DSN            string   `yaml:"dsn"`
	Schema         string   `yaml:"schema"`
	MaxConns       int32    `yaml:"max_conns"`
	MinConns       int32    `yaml:"min_conns"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// StoreConfig points at the durable cache backend. Disabled when Endpoint
// is empty.
type StoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// CacheConfig tunes the schema cache.
type CacheConfig struct {
	Capacity     int      `yaml:"capacity"`
	TTL          Duration `yaml:"ttl"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
	FetchRetries int      `yaml:"fetch_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// DiscoveryConfig bounds relationship discovery.
type DiscoveryConfig struct {
	MaxDepth  int `yaml:"max_depth"`
	MaxTables int `yaml:"max_tables"`
}

// IntentConfig tunes intent resolution.
type IntentConfig struct {
	Timeout        Duration `yaml:"timeout"`
	FallbackRecent int      `yaml:"fallback_recent"`
}

// LLMConfig points at the planner endpoint.
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Timeout     Duration `yaml:"timeout"`
}

// BuilderConfig tunes context assembly.
type BuilderConfig struct {
	FetchConcurrency int      `yaml:"fetch_concurrency"`
	Deadline         Duration `yaml:"deadline"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Entity maps one business entity to its physical tables and tier.
type Entity struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tier        string   `yaml:"tier"` // core, contextual, peripheral
	Tables      []string `yaml:"tables"`
}

// Default returns the baseline configuration. Load starts from this so a
// sparse YAML file only overrides what it mentions.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Schema:         "public",
			MaxConns:       10,
			MinConns:       2,
			ConnectTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{Bucket: "schemactx", Prefix: "detail"},
		Cache: CacheConfig{
			Capacity:     128,
			TTL:          Duration(15 * time.Minute),
			FetchTimeout: Duration(10 * time.Second),
			FetchRetries: 2,
			RetryBackoff: Duration(200 * time.Millisecond),
		},
		Discovery: DiscoveryConfig{MaxDepth: 2, MaxTables: 25},
		Intent:    IntentConfig{Timeout: Duration(20 * time.Second), FallbackRecent: 5},
		LLM: LLMConfig{
			Temperature: 0.1,
			MaxTokens:   512,
			Timeout:     Duration(30 * time.Second),
		},
		Builder: BuilderConfig{FetchConcurrency: 4, Deadline: Duration(60 * time.Second)},
		Server:  ServerConfig{Listen: ":8080"},
	}
}

// Load reads path into a Config layered over Default, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to parse config file", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deploy tooling inject secrets without writing them to YAML.
func (c *Config) applyEnv() {
	if v := os.Getenv("SCHEMACTX_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("SCHEMACTX_STORE_ACCESS_KEY"); v != "" {
		c.Store.AccessKey = v
	}
	if v := os.Getenv("SCHEMACTX_STORE_SECRET_KEY"); v != "" {
		c.Store.SecretKey = v
	}
	if v := os.Getenv("SCHEMACTX_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("SCHEMACTX_LISTEN"); v != "" {
		c.Server.Listen = v
	}
}

// Validate rejects configurations that cannot possibly work.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errs.New(errs.ErrKindInvalidInput, "database.dsn is required")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "mysql" {
		return errs.Newf(errs.ErrKindInvalidInput, "unsupported database driver %q", c.Database.Driver)
	}
	if c.Store.Endpoint != "" && c.Store.Bucket == "" {
		return errs.New(errs.ErrKindInvalidInput, "store.bucket is required when store.endpoint is set")
	}
	if c.LLM.BaseURL != "" && c.LLM.Model == "" {
		return errs.New(errs.ErrKindInvalidInput, "llm.model is required when llm.base_url is set")
	}
	for _, e := range c.Entities {
		if e.Name == "" || len(e.Tables) == 0 {
			return errs.Newf(errs.ErrKindInvalidInput, "entity %q needs a name and at least one table", e.Name)
		}
		switch e.Tier {
		case "core", "contextual", "peripheral", "":
		default:
			return errs.Newf(errs.ErrKindInvalidInput, "entity %q has unknown tier %q", e.Name, e.Tier)
		}
	}
	return nil
}

// TierMapping flattens the entity list into the catalog's table → rule map.
// Later entities win on conflicting table names.
func (c *Config) TierMapping() catalog.Mapping {
	mapping := catalog.Mapping{}
	for _, e := range c.Entities {
		for _, table := range e.Tables {
			mapping[table] = catalog.Rule{
				Tier:        schema.ParseTier(e.Tier),
				Description: e.Description,
			}
		}
	}
	return mapping
}
