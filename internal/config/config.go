// Package config loads topographd's configuration from topograph.yaml and
// the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the server configuration.
type Config struct {
	Listen string      `mapstructure:"listen"`
	Store  StoreConfig `mapstructure:"store"`
}

// StoreConfig selects the durable record store backend.
type StoreConfig struct {
	Backend string       `mapstructure:"backend"` // memory, sqlite or neo4j
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	Neo4j   Neo4jConfig  `mapstructure:"neo4j"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// Neo4jConfig configures the Neo4j backend.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// Load reads topograph.yaml (from path if given, else the working
// directory), applies TOPOGRAPH_* environment overrides and fills in
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":7474")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.sqlite.path", "topograph.db")
	v.SetDefault("store.neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("store.neo4j.username", "neo4j")
	v.SetDefault("store.neo4j.database", "neo4j")

	v.SetConfigName("topograph")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TOPOGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "memory", "sqlite", "neo4j":
	default:
		return fmt.Errorf("unknown store backend %q (want memory, sqlite or neo4j)", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.SQLite.Path == "" {
		return fmt.Errorf("sqlite backend requires store.sqlite.path")
	}
	if cfg.Store.Backend == "neo4j" && cfg.Store.Neo4j.URI == "" {
		return fmt.Errorf("neo4j backend requires store.neo4j.uri")
	}
	return nil
}
