// Package config loads cartpilot configuration from file, environment and
// flags through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/cartpilot/pkg/cartpilot"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// CARTPILOT_SEARCH_MAX_PAGES=2.
	EnvPrefix = "CARTPILOT"

	// FileName is the config file looked up in $HOME and the working
	// directory, without extension.
	FileName = ".cartpilot"
)

// Setup points v at the config file and the environment. An empty file
// searches $HOME and the working directory for .cartpilot.yaml.
func Setup(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load registers the defaults, reads the config file if there is one, and
// returns the validated configuration. A missing file is not an error unless
// it was named explicitly.
func Load(v *viper.Viper) (cartpilot.Config, error) {
	if err := SetDefaults(v, cartpilot.DefaultConfig()); err != nil {
		return cartpilot.Config{}, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cartpilot.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg cartpilot.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cartpilot.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cartpilot.Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers every leaf of cfg as a viper default so that
// environment variables can override keys the config file never mentions.
func SetDefaults(v *viper.Viper, cfg cartpilot.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decoding defaults: %w", err)
	}
	setLeaves(v, "", tree)
	return nil
}

func setLeaves(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setLeaves(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}
