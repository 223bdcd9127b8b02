// Package evasion detects anti-bot challenge pages and tries to get past them.
//
// Detection is a phrase match over the rendered page text. On a hit the
// Controller runs the bypass strategies in random order, re-checking after
// each one, then falls back to a user-agent change plus reload. The whole
// cycle is repeated a bounded number of times before giving up.
package evasion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/browser"
	"github.com/jmylchreest/cartpilot/pkg/pacing"
)

// ErrExhausted is matched by every ExhaustedError.
var ErrExhausted = errors.New("challenge could not be bypassed")

// UserAgentReload is the attempt ID recorded for the fallback reload.
const UserAgentReload = "user-agent-reload"

// Config controls challenge handling.
type Config struct {
	MaxAttempts int      `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	Phrases     []string `mapstructure:"phrases" yaml:"phrases"`
	UserAgents  []string `mapstructure:"user_agents" yaml:"user_agents"`

	Screenshots   bool   `mapstructure:"screenshots" yaml:"screenshots"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`

	Settle  Range `mapstructure:"settle" yaml:"settle"`
	Reload  Range `mapstructure:"reload" yaml:"reload"`
	Backoff Range `mapstructure:"backoff" yaml:"backoff"`
	Waits   Waits `mapstructure:"waits" yaml:"waits"`
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Phrases:     append([]string(nil), DefaultPhrases...),
		UserAgents:  append([]string(nil), browser.DefaultUserAgents...),
		Screenshots: true,
		Settle:      pacing.Between(3*time.Second, 5*time.Second),
		Reload:      pacing.Between(5*time.Second, 8*time.Second),
		Backoff:     pacing.Between(5*time.Second, 10*time.Second),
		Waits: Waits{
			SiteRoot: pacing.Between(3*time.Second, 5*time.Second),
			History:  pacing.Between(2*time.Second, 4*time.Second),
			Redirect: pacing.Between(2*time.Second, 4*time.Second),
		},
	}
}

// Outcome of a single attempt.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Attempt records one strategy application.
type Attempt struct {
	Strategy string
	Outcome  Outcome
	At       time.Time
	Err      error
}

// Result describes one EnsurePassable call.
type Result struct {
	// Challenge is the last phrase detected, empty if none was seen.
	Challenge string
	Attempts  []Attempt
	Cycles    int
}

// Challenged reports whether a challenge was seen at all.
func (r Result) Challenged() bool { return r.Challenge != "" }

// ExhaustedError is returned when every cycle left the challenge in place.
type ExhaustedError struct {
	Challenge string
	Cycles    int
	Attempts  []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %q still present after %d cycles (%d attempts)",
		ErrExhausted, e.Challenge, e.Cycles, len(e.Attempts))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Controller guards page loads against challenge pages.
type Controller struct {
	cfg        Config
	detector   Detector
	strategies []Strategy
	pacer      *pacing.Pacer
	now        func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithStrategies replaces the built-in strategies.
func WithStrategies(s ...Strategy) Option {
	return func(c *Controller) { c.strategies = s }
}

// WithClock replaces time.Now for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller for a site rooted at siteRoot.
func New(siteRoot string, p *pacing.Pacer, cfg Config, opts ...Option) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = browser.DefaultUserAgents
	}
	c := &Controller{
		cfg:        cfg,
		detector:   NewDetector(cfg.Phrases...),
		strategies: DefaultStrategies(siteRoot, p, cfg.Waits),
		pacer:      p,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsurePassable returns nil once the page shows no challenge. A page that is
// clear on arrival costs one text read and nothing else.
func (c *Controller) EnsurePassable(ctx context.Context, page browser.Page) (Result, error) {
	var res Result
	for cycle := 1; cycle <= c.cfg.MaxAttempts; cycle++ {
		res.Cycles = cycle
		phrase, err := c.challenge(ctx, page)
		if err != nil {
			return res, err
		}
		if phrase == "" {
			return res, nil
		}
		res.Challenge = phrase
		logger.Warn("challenge detected", "phrase", phrase, "cycle", cycle)
		c.screenshot(ctx, page, cycle)

		cleared, err := c.runStrategies(ctx, page, &res)
		if err != nil || cleared {
			return res, err
		}

		cleared, err = c.reloadAs(ctx, page, &res)
		if err != nil || cleared {
			return res, err
		}

		if cycle < c.cfg.MaxAttempts {
			if err := c.pacer.Wait(ctx, c.cfg.Backoff); err != nil {
				return res, err
			}
		}
	}

	logger.Error("challenge not bypassed", "phrase", res.Challenge, "cycles", res.Cycles)
	return res, &ExhaustedError{Challenge: res.Challenge, Cycles: res.Cycles, Attempts: res.Attempts}
}

func (c *Controller) runStrategies(ctx context.Context, page browser.Page, res *Result) (bool, error) {
	for _, i := range c.pacer.Perm(len(c.strategies)) {
		s := c.strategies[i]
		cleared, err := c.try(ctx, page, s.ID, func() error {
			if err := s.Apply(ctx, page); err != nil {
				return err
			}
			return c.pacer.Wait(ctx, c.cfg.Settle)
		}, res)
		if err != nil || cleared {
			return cleared, err
		}
	}
	return false, nil
}

func (c *Controller) reloadAs(ctx context.Context, page browser.Page, res *Result) (bool, error) {
	ua := c.pacer.Choose(c.cfg.UserAgents)
	return c.try(ctx, page, UserAgentReload, func() error {
		if err := page.SetUserAgent(ctx, ua); err != nil {
			return err
		}
		if err := page.Reload(ctx); err != nil {
			return err
		}
		return c.pacer.Wait(ctx, c.cfg.Reload)
	}, res)
}

// try runs one attempt and re-checks the page. Only context errors are
// returned; everything else is recorded as a failed attempt.
func (c *Controller) try(ctx context.Context, page browser.Page, id string, apply func() error, res *Result) (bool, error) {
	err := apply()
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		var phrase string
		phrase, err = c.challenge(ctx, page)
		if err == nil && phrase == "" {
			res.Attempts = append(res.Attempts, Attempt{Strategy: id, Outcome: Success, At: c.now()})
			logger.Info("challenge bypassed", "strategy", id)
			return true, nil
		}
		if err == nil {
			res.Challenge = phrase
		}
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	res.Attempts = append(res.Attempts, Attempt{Strategy: id, Outcome: Failure, At: c.now(), Err: err})
	logger.Debug("bypass attempt failed", "strategy", id, "error", err)
	return false, nil
}

func (c *Controller) challenge(ctx context.Context, page browser.Page) (string, error) {
	text, err := page.Text(ctx)
	if err != nil {
		return "", fmt.Errorf("reading page text: %w", err)
	}
	phrase, _ := c.detector.Detect(text)
	return phrase, nil
}

// screenshot saves a capture of the challenge page. Failures are logged only.
func (c *Controller) screenshot(ctx context.Context, page browser.Page, cycle int) {
	if !c.cfg.Screenshots {
		return
	}
	data, err := page.Screenshot(ctx)
	if err != nil || len(data) == 0 {
		logger.Debug("challenge screenshot failed", "error", err)
		return
	}
	dir := c.cfg.ScreenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("cartpilot-challenge-%d-%d.png", c.now().UnixNano(), cycle))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Debug("writing challenge screenshot", "path", path, "error", err)
		return
	}
	logger.Info("challenge screenshot saved", "path", path)
}
