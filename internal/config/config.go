// Package config loads the engine's run settings from a config file and
// the environment, and applies the per-run settings overrides a caller
// passes to one execution (use_datapackage, use_memory_db, ...) on top of
// that base.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/viper"
)

const (
	configName      = ".spineflow"
	configType      = "yaml"
	envPrefix       = "SPINEFLOW"
	envKeySeparator = "_"
)

// Config is the engine's base run configuration.
type Config struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogDir    string `mapstructure:"log_dir"`

	MaxConcurrentSolids int `mapstructure:"max_concurrent_solids"`
	OneShotPermits      int `mapstructure:"one_shot_permits"`
	PersistentPermits   int `mapstructure:"persistent_permits"`

	UseDatapackage     bool `mapstructure:"use_datapackage"`
	UseMemoryDB        bool `mapstructure:"use_memory_db"`
	PurgeBeforeWriting bool `mapstructure:"purge_before_writing"`
}

// Default returns the built-in defaults, matching applyDefaults below.
func Default() Config {
	return Config{
		LogFormat:           "text",
		MaxConcurrentSolids: 100,
		OneShotPermits:      -1,
		PersistentPermits:   -1,
	}
}

// Load reads configuration from configPath (if set), or from ./.spineflow
// and $HOME/.spineflow otherwise, then layers environment variables
// prefixed SPINEFLOW_ on top. A config file missing from the search paths
// is not an error; an explicit configPath that does not exist is.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("max_concurrent_solids", d.MaxConcurrentSolids)
	v.SetDefault("one_shot_permits", d.OneShotPermits)
	v.SetDefault("persistent_permits", d.PersistentPermits)
	v.SetDefault("use_datapackage", d.UseDatapackage)
	v.SetDefault("use_memory_db", d.UseMemoryDB)
	v.SetDefault("purge_before_writing", d.PurgeBeforeWriting)
}

// Override applies a per-run settings overlay on top of base, leaving
// base's zero-value fields untouched except where override sets them
// explicitly. Only non-zero fields in override take effect, matching the
// engine's "settings dict overrides project defaults" behavior.
func Override(base Config, override Config) (Config, error) {
	out := base
	if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("config: merge override: %w", err)
	}
	return out, nil
}
