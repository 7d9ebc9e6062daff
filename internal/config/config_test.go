package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalumen/schemactx/internal/errs"
	"github.com/datalumen/schemactx/internal/schema"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalYAML = `
database:
  dsn: "postgres://localhost:5432/warehouse"
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 128, cfg.Cache.Capacity)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL.Std())
	assert.Equal(t, 2, cfg.Discovery.MaxDepth)
	assert.Equal(t, 25, cfg.Discovery.MaxTables)
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log:
  level: debug
  format: console
database:
  driver: mysql
  dsn: "user:pass@tcp(localhost:3306)/warehouse"
cache:
  capacity: 64
  ttl: 5m
discovery:
  max_depth: 3
entities:
  - name: claims
    description: "rebate claims"
    tier: core
    tables: [MN_MCD_CLAIM, MN_MCD_CLAIM_LINE]
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 64, cfg.Cache.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.Std())
	assert.Equal(t, 3, cfg.Discovery.MaxDepth)
	// Unspecified values keep their defaults.
	assert.Equal(t, 25, cfg.Discovery.MaxTables)
	require.Len(t, cfg.Entities, 1)
	assert.Equal(t, []string{"MN_MCD_CLAIM", "MN_MCD_CLAIM_LINE"}, cfg.Entities[0].Tables)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCHEMACTX_DB_DSN", "postgres://env-host:5432/envdb")
	t.Setenv("SCHEMACTX_LLM_API_KEY", "sk-from-env")
	t.Setenv("SCHEMACTX_LISTEN", ":9090")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host:5432/envdb", cfg.Database.DSN)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, ":9090", cfg.Server.Listen)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database.dsn",
		},
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "driver",
		},
		{
			name: "store endpoint without bucket",
			mutate: func(c *Config) {
				c.Store.Endpoint = "localhost:9000"
				c.Store.Bucket = ""
			},
			wantErr: "store.bucket",
		},
		{
			name: "llm base url without model",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "https://api.example.com/v1"
				c.LLM.Model = ""
			},
			wantErr: "llm.model",
		},
		{
			name: "entity without tables",
			mutate: func(c *Config) {
				c.Entities = []Entity{{Name: "claims", Tier: "core"}}
			},
			wantErr: "at least one table",
		},
		{
			name: "entity with unknown tier",
			mutate: func(c *Config) {
				c.Entities = []Entity{{Name: "claims", Tier: "critical", Tables: []string{"T"}}}
			},
			wantErr: "tier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.DSN = "postgres://localhost/db"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTierMapping(t *testing.T) {
	cfg := Default()
	cfg.Entities = []Entity{
		{
			Name:        "claims",
			Description: "rebate claims",
			Tier:        "core",
			Tables:      []string{"MN_MCD_CLAIM", "MN_MCD_CLAIM_LINE"},
		},
		{
			Name:   "pricing",
			Tier:   "contextual",
			Tables: []string{"MN_MCD_PRICELIST_PUBLISHED"},
		},
	}

	mapping := cfg.TierMapping()
	require.Len(t, mapping, 3)
	assert.Equal(t, schema.TierCore, mapping["MN_MCD_CLAIM"].Tier)
	assert.Equal(t, "rebate claims", mapping["MN_MCD_CLAIM"].Description)
	assert.Equal(t, schema.TierContextual, mapping["MN_MCD_PRICELIST_PUBLISHED"].Tier)
}

func TestDuration_Unmarshal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
cache:
  retry_backoff: 150ms
`))
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, cfg.Cache.RetryBackoff.Std())
}
