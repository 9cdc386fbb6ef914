// Package config loads the service configuration from config.yaml and
// PATCHHISTORY_* environment variables.
package config

import (
	"time"

	"github.com/rpattn/patchhistory/internal/db"
	"github.com/rpattn/patchhistory/internal/domain"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type Config struct {
	LogLevel    string             `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Server      ServerConfig       `mapstructure:"server"`
	Store       StoreConfig        `mapstructure:"store"`
	Collections []CollectionConfig `mapstructure:"collections" validate:"dive"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	// LoaderWait is how long per-request patch loaders batch lookups.
	LoaderWait time.Duration `mapstructure:"loader_wait"`
}

type StoreConfig struct {
	Backend  string         `mapstructure:"backend" validate:"required,oneof=memory mongo postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo" validate:"-"`
	Postgres PostgresConfig `mapstructure:"postgres" validate:"-"`
}

type MongoConfig struct {
	URI         string `mapstructure:"uri" validate:"required,uri"`
	Database    string `mapstructure:"database" validate:"required"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
}

type PostgresConfig struct {
	db.Config `mapstructure:",squash"`
	// Migrate applies the embedded migrations on startup.
	Migrate bool `mapstructure:"migrate"`
}

// CollectionConfig declares one tracked collection.
type CollectionConfig struct {
	// Name is the model name; the store collection defaults to it with a
	// lower-cased first character.
	Name       string                   `mapstructure:"name" validate:"required"`
	Collection string                   `mapstructure:"collection"`
	Timestamps bool                     `mapstructure:"timestamps"`
	Strict     bool                     `mapstructure:"strict"`
	Fields     []domain.FieldDefinition `mapstructure:"fields" validate:"required,min=1,dive"`
	History    HistoryConfig            `mapstructure:"history"`
}

type HistoryConfig struct {
	// Name of the patch model; defaults to "<name>Patches".
	Name string `mapstructure:"name"`
	// RemovePatches defaults to true when unset.
	RemovePatches      *bool           `mapstructure:"remove_patches"`
	TrackOriginalValue bool            `mapstructure:"track_original_value"`
	Includes           []IncludeConfig `mapstructure:"includes" validate:"dive"`
}

type IncludeConfig struct {
	Name     string           `mapstructure:"name" validate:"required"`
	Type     domain.FieldType `mapstructure:"type" validate:"required"`
	Required bool             `mapstructure:"required"`
	// From is the document field or virtual the value is read from.
	From string `mapstructure:"from"`
}

// Default returns the configuration used when nothing is configured.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			LoaderWait:     5 * time.Millisecond,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Mongo: MongoConfig{
				URI:      "mongodb://localhost:27017",
				Database: "patch_history",
			},
			Postgres: PostgresConfig{Config: db.DefaultConfig()},
		},
	}
}

// RemovePatchesEnabled resolves the cascade flag.
func (h HistoryConfig) RemovePatchesEnabled() bool {
	return h.RemovePatches == nil || *h.RemovePatches
}
