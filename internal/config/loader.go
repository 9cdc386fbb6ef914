package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PATCHHISTORY_STORE_BACKEND.
const EnvPrefix = "PATCHHISTORY"

// Load reads config.yaml from path (a directory or a file) and applies
// environment overrides. A missing file is not an error: defaults and the
// environment are used instead.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if path == "" {
			path = "."
		}
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // allow environment overrides

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Info("no config file found, using defaults and env vars", "path", filepath.Clean(path))
	} else {
		slog.Info("loaded config", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("log_level", def.LogLevel)

	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.allowed_origins", def.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", def.Server.IdleTimeout)
	v.SetDefault("server.loader_wait", def.Server.LoaderWait)

	v.SetDefault("store.backend", def.Store.Backend)

	v.SetDefault("store.mongo.uri", def.Store.Mongo.URI)
	v.SetDefault("store.mongo.database", def.Store.Mongo.Database)
	v.SetDefault("store.mongo.max_pool_size", def.Store.Mongo.MaxPoolSize)

	v.SetDefault("store.postgres.host", def.Store.Postgres.Host)
	v.SetDefault("store.postgres.port", def.Store.Postgres.Port)
	v.SetDefault("store.postgres.user", def.Store.Postgres.User)
	v.SetDefault("store.postgres.password", def.Store.Postgres.Password)
	v.SetDefault("store.postgres.dbname", def.Store.Postgres.DBName)
	v.SetDefault("store.postgres.sslmode", def.Store.Postgres.SSLMode)
	v.SetDefault("store.postgres.max_conns", def.Store.Postgres.MaxConns)
	v.SetDefault("store.postgres.migrate", def.Store.Postgres.Migrate)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. Backend settings are only checked for
// the selected backend.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Store.Backend {
	case BackendMongo:
		if err := validate.Struct(c.Store.Mongo); err != nil {
			return fmt.Errorf("invalid mongo config: %w", err)
		}
	case BackendPostgres:
		if err := validate.Struct(c.Store.Postgres); err != nil {
			return fmt.Errorf("invalid postgres config: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(c.Collections))
	for _, collection := range c.Collections {
		key := strings.ToLower(collection.Name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("invalid config: duplicate collection %q", collection.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}
