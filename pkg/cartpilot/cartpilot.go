// Package cartpilot is the public API: search a listings site through a
// managed browser session and add products to the cart.
package cartpilot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/browser"
	"github.com/jmylchreest/cartpilot/pkg/cart"
	"github.com/jmylchreest/cartpilot/pkg/evasion"
	"github.com/jmylchreest/cartpilot/pkg/extract"
	"github.com/jmylchreest/cartpilot/pkg/pacing"
	"github.com/jmylchreest/cartpilot/pkg/session"
	"github.com/jmylchreest/cartpilot/pkg/site"
)

// Re-exported result types.
type (
	Record       = extract.Record
	Result       = extract.Result
	ActionResult = cart.ActionResult
	SessionInfo  = session.Info
)

// Option configures a Client beyond what Config covers.
type Option func(*options)

type options struct {
	launcher browser.Launcher
	profile  *site.Profile
	sleep    pacing.SleepFunc
	logger   *slog.Logger
}

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l browser.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithProfile uses p instead of the configured or built-in site profile.
func WithProfile(p *site.Profile) Option {
	return func(o *options) { o.profile = p }
}

// WithSleep replaces the clock used for every pause.
func WithSleep(fn pacing.SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// WithLogger routes cartpilot's logs into l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Client owns one browser session and everything that drives it.
type Client struct {
	profile  *site.Profile
	sessions *session.Manager
	pipeline *extract.Pipeline
	executor *cart.Executor
}

// New creates a Client. No browser is started until the first call that
// needs one.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		logger.SetLogger(o.logger)
	}

	profile := o.profile
	if profile == nil {
		profile = site.Amazon()
		if cfg.Site.Profile != "" {
			var err error
			if profile, err = site.Load(cfg.Site.Profile); err != nil {
				return nil, err
			}
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	pacer := pacing.New(rng, o.sleep)

	launcher := o.launcher
	if launcher == nil {
		bcfg := cfg.Browser
		bcfg.Rand = rand.New(rand.NewSource(seed + 1))
		launcher = browser.NewChromeLauncher(bcfg)
	}

	sessions := session.NewManager(launcher,
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
		session.WithProbeTimeout(cfg.Session.ProbeTimeout),
	)
	guard := evasion.New(profile.BaseURL, pacer, cfg.Evasion)
	pipeline := extract.New(sessions, guard, profile, pacer, cfg.Search)

	logger.Debug("client ready", "site", profile.Name, "headless", cfg.Browser.Headless)
	return &Client{
		profile:  profile,
		sessions: sessions,
		pipeline: pipeline,
		executor: cart.New(sessions, guard, profile, pacer, pipeline, cfg.Cart),
	}, nil
}

// Search runs a search and returns every record collected.
func (c *Client) Search(ctx context.Context, term string) (*Result, error) {
	return c.pipeline.Search(ctx, term)
}

// AddTopSponsored searches term and adds up to count labelled sponsored
// products without confirming each add.
func (c *Client) AddTopSponsored(ctx context.Context, term string, count int) ([]ActionResult, error) {
	return c.executor.AddTopSponsored(ctx, term, count)
}

// AddCurrentSponsored adds up to limit sponsored products from the page the
// current session shows and returns the number of confirmed adds.
func (c *Client) AddCurrentSponsored(ctx context.Context, limit int) (int, error) {
	return c.executor.AddCurrentSponsored(ctx, limit)
}

// AddByIdentifier adds products by identifier, searching term first when no
// session is active.
func (c *Client) AddByIdentifier(ctx context.Context, ids []string, term string) ([]ActionResult, error) {
	return c.executor.AddByIdentifier(ctx, ids, term)
}

// Session describes the current browser session.
func (c *Client) Session() SessionInfo {
	return c.sessions.Snapshot()
}

// Site returns the name of the active site profile.
func (c *Client) Site() string {
	return c.profile.Name
}

// Close releases the browser session.
func (c *Client) Close() error {
	if err := c.sessions.Close(); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}
