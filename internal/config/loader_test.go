package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/patchhistory/internal/domain"
)

const sampleConfig = `
log_level: debug
server:
  addr: ":9090"
  allowed_origins: ["https://example.com"]
  read_timeout: 5s
store:
  backend: postgres
  postgres:
    host: db.internal
    port: 5433
    user: history
    dbname: history
    sslmode: require
    migrate: true
collections:
  - name: Post
    timestamps: true
    fields:
      - name: title
        type: string
        required: true
      - name: author
        type: reference
        ref: User
    history:
      name: postPatches
      remove_patches: false
      track_original_value: true
      includes:
        - name: user
          type: string
          from: author
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

func TestLoadReadsFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")

	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "db.internal", cfg.Store.Postgres.Host)
	assert.Equal(t, 5433, cfg.Store.Postgres.Port)
	assert.True(t, cfg.Store.Postgres.Migrate)

	require.Len(t, cfg.Collections, 1)
	post := cfg.Collections[0]
	assert.Equal(t, "Post", post.Name)
	assert.True(t, post.Timestamps)
	require.Len(t, post.Fields, 2)
	assert.Equal(t, domain.FieldDefinition{Name: "author", Type: domain.FieldTypeReference, Ref: "User"}, post.Fields[1])
	assert.Equal(t, "postPatches", post.History.Name)
	assert.False(t, post.History.RemovePatchesEnabled())
	assert.True(t, post.History.TrackOriginalValue)
	assert.Equal(t, []IncludeConfig{{Name: "user", Type: domain.FieldTypeString, From: "author"}}, post.History.Includes)
}

func TestLoadExplicitFile(t *testing.T) {
	dir := writeConfig(t, sampleConfig)
	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Empty(t, cfg.Collections)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PATCHHISTORY_SERVER_ADDR", ":7070")
	t.Setenv("PATCHHISTORY_STORE_BACKEND", "mongo")
	t.Setenv("PATCHHISTORY_STORE_MONGO_DATABASE", "audit")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, BackendMongo, cfg.Store.Backend)
	assert.Equal(t, "audit", cfg.Store.Mongo.Database)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"missing addr", func(c *Config) { c.Server.Addr = "" }},
		{"postgres without host", func(c *Config) {
			c.Store.Backend = BackendPostgres
			c.Store.Postgres.Host = ""
		}},
		{"mongo without database", func(c *Config) {
			c.Store.Backend = BackendMongo
			c.Store.Mongo.Database = ""
		}},
		{"collection without fields", func(c *Config) {
			c.Collections = []CollectionConfig{{Name: "Post"}}
		}},
		{"include without type", func(c *Config) {
			c.Collections = []CollectionConfig{{
				Name:    "Post",
				Fields:  []domain.FieldDefinition{{Name: "title", Type: domain.FieldTypeString}},
				History: HistoryConfig{Includes: []IncludeConfig{{Name: "user"}}},
			}}
		}},
		{"duplicate collection", func(c *Config) {
			fields := []domain.FieldDefinition{{Name: "title", Type: domain.FieldTypeString}}
			c.Collections = []CollectionConfig{{Name: "Post", Fields: fields}, {Name: "post", Fields: fields}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestRemovePatchesDefaultsToEnabled(t *testing.T) {
	assert.True(t, HistoryConfig{}.RemovePatchesEnabled())
	enabled := true
	assert.True(t, HistoryConfig{RemovePatches: &enabled}.RemovePatchesEnabled())
}
