// Package extract runs a search on the live site and collects product
// records across scrolled and paginated result pages.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/browser"
	"github.com/jmylchreest/cartpilot/pkg/evasion"
	"github.com/jmylchreest/cartpilot/pkg/locator"
	"github.com/jmylchreest/cartpilot/pkg/pacing"
	"github.com/jmylchreest/cartpilot/pkg/session"
	"github.com/jmylchreest/cartpilot/pkg/site"
)

// Guard clears challenge pages. *evasion.Controller implements it.
type Guard interface {
	EnsurePassable(ctx context.Context, page browser.Page) (evasion.Result, error)
}

// Delays are the pauses taken while searching.
type Delays struct {
	PageLoad pacing.Range `mapstructure:"page_load" yaml:"page_load"`
	Typing   pacing.Range `mapstructure:"typing" yaml:"typing"`
	Submit   pacing.Range `mapstructure:"submit" yaml:"submit"`
	Scroll   pacing.Range `mapstructure:"scroll" yaml:"scroll"`
	Retry    pacing.Range `mapstructure:"retry" yaml:"retry"`
}

// Config bounds a search.
type Config struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	MaxPages       int           `mapstructure:"max_pages" yaml:"max_pages" validate:"gte=0"`
	MaxScrolls     int           `mapstructure:"max_scrolls" yaml:"max_scrolls" validate:"gte=1"`
	ElementTimeout time.Duration `mapstructure:"element_timeout" yaml:"element_timeout" validate:"gt=0"`
	ScrollMinPx    int           `mapstructure:"scroll_min_px" yaml:"scroll_min_px" validate:"gte=1"`
	ScrollMaxPx    int           `mapstructure:"scroll_max_px" yaml:"scroll_max_px" validate:"gtefield=ScrollMinPx"`
	Delays         Delays        `mapstructure:"delays" yaml:"delays"`
}

// DefaultConfig returns the stock search settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		MaxPages:       5,
		MaxScrolls:     40,
		ElementTimeout: 10 * time.Second,
		ScrollMinPx:    300,
		ScrollMaxPx:    700,
		Delays: Delays{
			PageLoad: pacing.Between(2*time.Second, 4*time.Second),
			Typing:   pacing.Between(50*time.Millisecond, 200*time.Millisecond),
			Submit:   pacing.Between(300*time.Millisecond, 800*time.Millisecond),
			Scroll:   pacing.Between(500*time.Millisecond, 1500*time.Millisecond),
			Retry:    pacing.Between(2*time.Second, 5*time.Second),
		},
	}
}

// Result is the outcome of one search.
type Result struct {
	Term      string   `json:"term" yaml:"term"`
	Records   []Record `json:"records" yaml:"records"`
	Total     int      `json:"total" yaml:"total"`
	Pages     int      `json:"pages" yaml:"pages"`
	SessionID string   `json:"session_id" yaml:"session_id"`
}

// Pipeline searches a site through the managed browser session.
type Pipeline struct {
	sessions *session.Manager
	guard    Guard
	profile  *site.Profile
	pacer    *pacing.Pacer
	cfg      Config
}

// New creates a Pipeline.
func New(sessions *session.Manager, guard Guard, profile *site.Profile, p *pacing.Pacer, cfg Config) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = 1
	}
	return &Pipeline{sessions: sessions, guard: guard, profile: profile, pacer: p, cfg: cfg}
}

// Search submits term through the site's search box and collects records.
func (p *Pipeline) Search(ctx context.Context, term string) (*Result, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, &SearchError{Stage: StageInput, Term: term, Err: ErrEmptyTerm}
	}

	sess, err := p.sessions.Acquire(ctx)
	if err != nil {
		return nil, p.fail(StageSession, term, err)
	}
	log := logger.With("session", sess.ID, "term", term)
	page := sess.Page()

	if err := p.submit(ctx, page, term); err != nil {
		return nil, p.fail(StageSearch, term, err)
	}
	p.sessions.RecordActivity()
	if _, err := p.guard.EnsurePassable(ctx, page); err != nil {
		return nil, p.fail(StageEvasion, term, err)
	}

	c := newCollector()
	pages, err := p.collect(ctx, page, c)
	if err != nil {
		return nil, p.fail(StageCollect, term, err)
	}
	p.sessions.RecordActivity()

	log.Info("search complete", "records", len(c.records), "pages", pages)
	return &Result{
		Term:      term,
		Records:   c.records,
		Total:     len(c.records),
		Pages:     pages,
		SessionID: sess.ID,
	}, nil
}

// fail wraps err and, unless the session was never acquired, releases it.
// A failed Acquire leaves nothing to release, and releasing while another
// caller is still creating the session would discard that session.
// Evasion exhaustion is always reported as the evasion stage.
func (p *Pipeline) fail(stage Stage, term string, err error) error {
	if errors.Is(err, evasion.ErrExhausted) {
		stage = StageEvasion
	}
	logger.Error("search failed", "term", term, "stage", stage, "error", err)
	if stage != StageSession {
		p.sessions.Release()
	}
	return &SearchError{Stage: stage, Term: term, Err: err}
}

func (p *Pipeline) submit(ctx context.Context, page browser.Page, term string) error {
	var err error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err = p.trySubmit(ctx, page, term); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, evasion.ErrExhausted) {
			return err
		}
		logger.Warn("search attempt failed", "attempt", attempt, "error", err)
		if attempt == p.cfg.MaxAttempts {
			break
		}
		if rerr := page.Reload(ctx); rerr != nil {
			logger.Debug("reload between attempts failed", "error", rerr)
		}
		if werr := p.pacer.Wait(ctx, p.cfg.Delays.Retry); werr != nil {
			return werr
		}
	}
	return fmt.Errorf("no usable search box after %d attempts: %w", p.cfg.MaxAttempts, err)
}

func (p *Pipeline) trySubmit(ctx context.Context, page browser.Page, term string) error {
	if err := page.Navigate(ctx, p.profile.BaseURL); err != nil {
		return fmt.Errorf("opening %s: %w", p.profile.BaseURL, err)
	}
	if err := p.settle(ctx, page); err != nil {
		return err
	}

	box, _, err := locator.Resolve[browser.Ref](ctx, p.profile.SearchBox, locator.OnPage(page))
	if err != nil {
		return err
	}
	sel := box.Selector()
	if err := page.Click(ctx, sel); err != nil {
		logger.Debug("focusing search box", "error", err)
	}
	if err := p.pacer.TypeText(ctx, page, sel, term, p.cfg.Delays.Typing); err != nil {
		return fmt.Errorf("typing search term: %w", err)
	}
	if err := p.pacer.Wait(ctx, p.cfg.Delays.Submit); err != nil {
		return err
	}
	if err := page.SendKeys(ctx, sel, browser.KeyEnter); err != nil {
		return fmt.Errorf("submitting search: %w", err)
	}
	return p.settle(ctx, page)
}

// settle waits for a loaded document and runs the challenge guard.
func (p *Pipeline) settle(ctx context.Context, page browser.Page) error {
	if err := page.WaitPresent(ctx, "body", p.cfg.ElementTimeout); err != nil {
		return fmt.Errorf("waiting for page: %w", err)
	}
	if err := p.pacer.Wait(ctx, p.cfg.Delays.PageLoad); err != nil {
		return err
	}
	_, err := p.guard.EnsurePassable(ctx, page)
	return err
}

// collect walks result pages until there is no next page, a followed page
// adds nothing new, or a limit is hit. It returns the number of pages that
// were collected.
func (p *Pipeline) collect(ctx context.Context, page browser.Page, c *collector) (int, error) {
	for n := 1; ; n++ {
		added, err := p.scroll(ctx, page, n, c)
		if err != nil {
			return n, err
		}
		// A next control that does not navigate leaves the same records on
		// screen, so a followed page with nothing new ends the walk.
		if n > 1 && added == 0 {
			logger.Debug("next page added no records, stopping", "page", n)
			return n - 1, nil
		}
		if p.cfg.MaxPages > 0 && n >= p.cfg.MaxPages {
			logger.Debug("page limit reached", "pages", n)
			return n, nil
		}
		more, err := p.nextPage(ctx, page)
		if err != nil || !more {
			return n, err
		}
		p.sessions.RecordActivity()
	}
}

// scroll moves down the current page, parsing a snapshot after every step,
// until the document stops growing at the bottom. It returns how many new
// records the page contributed.
func (p *Pipeline) scroll(ctx context.Context, page browser.Page, n int, c *collector) (int, error) {
	total, err := p.snapshot(ctx, page, n, c)
	if err != nil {
		return total, err
	}
	prev, err := page.ScrollHeight(ctx)
	if err != nil {
		return total, err
	}
	var pos int64
	for i := 0; i < p.cfg.MaxScrolls; i++ {
		pos, err = p.pacer.ScrollStep(ctx, page, pos, p.cfg.ScrollMinPx, p.cfg.ScrollMaxPx, p.cfg.Delays.Scroll)
		if err != nil {
			return total, err
		}
		height, err := page.ScrollHeight(ctx)
		if err != nil {
			return total, err
		}
		added, err := p.snapshot(ctx, page, n, c)
		total += added
		if err != nil {
			return total, err
		}
		if pos >= height && height <= prev {
			return total, nil
		}
		if height > prev {
			prev = height
		}
	}
	logger.Debug("scroll limit reached", "page", n, "scrolls", p.cfg.MaxScrolls)
	return total, nil
}

func (p *Pipeline) snapshot(ctx context.Context, page browser.Page, n int, c *collector) (int, error) {
	src, err := page.HTML(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading results: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return 0, fmt.Errorf("parsing results: %w", err)
	}
	added := c.add(ParseEntries(doc, p.profile), n)
	if added > 0 {
		logger.Debug("records collected", "page", n, "new", added, "total", len(c.records))
	}
	return added, nil
}

func (p *Pipeline) nextPage(ctx context.Context, page browser.Page) (bool, error) {
	next, _, err := locator.Resolve[browser.Ref](ctx, p.profile.NextPage, locator.OnPage(page))
	if errors.Is(err, locator.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sel := next.Selector()
	if err := page.ScrollIntoView(ctx, sel); err != nil {
		logger.Debug("scrolling to next page control", "error", err)
	}
	if err := page.Click(ctx, sel); err != nil {
		logger.Debug("next page click failed, using script click", "error", err)
		if err := page.ScriptClick(ctx, sel); err != nil {
			return false, fmt.Errorf("opening next page: %w", err)
		}
	}
	if err := p.settle(ctx, page); err != nil {
		return false, err
	}
	return true, nil
}
