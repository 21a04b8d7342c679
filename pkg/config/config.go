package config

// Package config provides a reusable loader for node configuration files
// and environment variables.

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/RelationLab/relation-node/pkg/utils"
)

// Config is the unified configuration for a node. It mirrors the
// structure of the YAML files under cmd/config.
type Config struct {
	Database struct {
		URL      string `mapstructure:"url" json:"url"`
		MaxConns int    `mapstructure:"max_conns" json:"max_conns"`
	} `mapstructure:"database" json:"database"`

	Chain struct {
		Name          string `mapstructure:"name" json:"name"`
		Namespace     string `mapstructure:"namespace" json:"namespace"`
		NetVersion    string `mapstructure:"net_version" json:"net_version"`
		GenesisHash   string `mapstructure:"genesis_hash" json:"genesis_hash"`
		AncestorCount int64  `mapstructure:"ancestor_count" json:"ancestor_count"`
	} `mapstructure:"chain" json:"chain"`

	Server struct {
		Bind string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"server" json:"server"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is
// loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("chain.namespace", "public")
	viper.SetDefault("chain.ancestor_count", 50)
	viper.SetDefault("server.bind", ":8081")

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the RELATION_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("RELATION_ENV", ""))
}
