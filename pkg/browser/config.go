package browser

import (
	"math/rand"
	"time"
)

// Config holds browser launch settings.
type Config struct {
	Headless   bool          `mapstructure:"headless" yaml:"headless"`
	ChromePath string        `mapstructure:"chrome_path" yaml:"chrome_path"`
	UserAgents []string      `mapstructure:"user_agents" yaml:"user_agents"`
	Width      int           `mapstructure:"width" yaml:"width" validate:"gte=0"`
	Height     int           `mapstructure:"height" yaml:"height" validate:"gte=0"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"` // per navigation / action
	// Rand picks the launch user-agent. Nil uses a time-seeded source.
	Rand *rand.Rand `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:   true,
		UserAgents: append([]string(nil), DefaultUserAgents...),
		Width:      1920,
		Height:     1080,
		Timeout:    30 * time.Second,
	}
}

// DefaultUserAgents is the pool a session's user-agent is drawn from. Entries
// must be Chromium-based to match the engine's navigator.vendor and client hints.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// RandomUserAgent picks one entry of pool, falling back to DefaultUserAgents.
func RandomUserAgent(rng *rand.Rand, pool []string) string {
	if len(pool) == 0 {
		pool = DefaultUserAgents
	}
	if rng == nil {
		return pool[rand.Intn(len(pool))]
	}
	return pool[rng.Intn(len(pool))]
}
