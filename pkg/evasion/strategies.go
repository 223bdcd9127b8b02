package evasion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jmylchreest/cartpilot/pkg/browser"
	"github.com/jmylchreest/cartpilot/pkg/pacing"
)

// Strategy is one attempt at getting past a challenge page.
type Strategy struct {
	ID    string
	Apply func(ctx context.Context, page browser.Page) error
}

// Waits holds the pauses used inside the built-in strategies.
type Waits struct {
	SiteRoot Range `mapstructure:"site_root" yaml:"site_root"`
	History  Range `mapstructure:"history" yaml:"history"`
	Redirect Range `mapstructure:"redirect" yaml:"redirect"`
}

// Range is re-exported for configuration structs.
type Range = pacing.Range

// DefaultStrategies returns the five built-in bypass strategies for a site
// rooted at siteRoot.
func DefaultStrategies(siteRoot string, p *pacing.Pacer, w Waits) []Strategy {
	return []Strategy{
		{ID: "cache-bust", Apply: func(ctx context.Context, page browser.Page) error {
			current, err := page.URL(ctx)
			if err != nil {
				return err
			}
			return page.Navigate(ctx, cacheBusted(current, p.IntBetween(1000, 9999)))
		}},
		{ID: "clear-cookies", Apply: func(ctx context.Context, page browser.Page) error {
			if err := page.ClearCookies(ctx); err != nil {
				return err
			}
			return page.Reload(ctx)
		}},
		{ID: "site-root", Apply: func(ctx context.Context, page browser.Page) error {
			if err := page.Navigate(ctx, siteRoot); err != nil {
				return err
			}
			return p.Wait(ctx, w.SiteRoot)
		}},
		{ID: "history-hop", Apply: func(ctx context.Context, page browser.Page) error {
			if err := page.Back(ctx); err != nil {
				return err
			}
			if err := p.Wait(ctx, w.History); err != nil {
				return err
			}
			return page.Forward(ctx)
		}},
		{ID: "script-redirect", Apply: func(ctx context.Context, page browser.Page) error {
			target, err := json.Marshal(siteRoot)
			if err != nil {
				return err
			}
			if err := page.Eval(ctx, fmt.Sprintf("window.location.href = %s", target)); err != nil {
				return err
			}
			return p.Wait(ctx, w.Redirect)
		}},
	}
}

// cacheBusted adds a throwaway query parameter so caches treat the request
// as new.
func cacheBusted(raw string, n int) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("_cb", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}
