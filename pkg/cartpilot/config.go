package cartpilot

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jmylchreest/cartpilot/pkg/browser"
	"github.com/jmylchreest/cartpilot/pkg/cart"
	"github.com/jmylchreest/cartpilot/pkg/evasion"
	"github.com/jmylchreest/cartpilot/pkg/extract"
	"github.com/jmylchreest/cartpilot/pkg/session"
)

// Config holds all cartpilot configuration.
type Config struct {
	Browser browser.Config `mapstructure:"browser" yaml:"browser"`
	Session SessionConfig  `mapstructure:"session" yaml:"session"`
	Evasion evasion.Config `mapstructure:"evasion" yaml:"evasion"`
	Search  extract.Config `mapstructure:"search" yaml:"search"`
	Cart    cart.Config    `mapstructure:"cart" yaml:"cart"`
	Site    SiteConfig     `mapstructure:"site" yaml:"site"`

	// Seed fixes the random source for pacing and user-agent choice.
	// Zero seeds from the clock.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// SessionConfig controls browser session reuse.
type SessionConfig struct {
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout" validate:"gt=0"`
}

// SiteConfig selects the site profile.
type SiteConfig struct {
	// Profile is a YAML file overlaid on the built-in profile.
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Browser: browser.DefaultConfig(),
		Session: SessionConfig{
			IdleTimeout:  session.DefaultIdleTimeout,
			ProbeTimeout: session.DefaultProbeTimeout,
		},
		Evasion: evasion.DefaultConfig(),
		Search:  extract.DefaultConfig(),
		Cart:    cart.DefaultConfig(),
	}
}

// Validate checks value ranges across all sections.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
