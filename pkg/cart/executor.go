// Package cart adds products to the site's cart through the managed browser
// session.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/browser"
	"github.com/jmylchreest/cartpilot/pkg/extract"
	"github.com/jmylchreest/cartpilot/pkg/locator"
	"github.com/jmylchreest/cartpilot/pkg/pacing"
	"github.com/jmylchreest/cartpilot/pkg/session"
	"github.com/jmylchreest/cartpilot/pkg/site"
)

// Outcome of one add attempt.
type Outcome string

const (
	Added       Outcome = "added"
	NotFound    Outcome = "not_found"
	Unconfirmed Outcome = "unconfirmed"
)

// ActionResult describes one product the executor tried to add.
type ActionResult struct {
	Title      string  `json:"title,omitempty" yaml:"title,omitempty"`
	Link       string  `json:"link,omitempty" yaml:"link,omitempty"`
	Identifier string  `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Outcome    Outcome `json:"outcome" yaml:"outcome"`
}

// Searcher runs a search that leaves an active session on the results page.
// *extract.Pipeline implements it.
type Searcher interface {
	Search(ctx context.Context, term string) (*extract.Result, error)
}

// Delays are the pauses taken around cart actions.
type Delays struct {
	PageLoad pacing.Range `mapstructure:"page_load" yaml:"page_load"`
	Pointer  pacing.Range `mapstructure:"pointer" yaml:"pointer"`
	Between  pacing.Range `mapstructure:"between" yaml:"between"`
}

// Config controls cart actions.
type Config struct {
	// ClickDelay is the fixed pause after each click in TopSponsored mode.
	ClickDelay     time.Duration `mapstructure:"click_delay" yaml:"click_delay" validate:"gte=0"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout" validate:"gt=0"`
	ConfirmPoll    time.Duration `mapstructure:"confirm_poll" yaml:"confirm_poll" validate:"gt=0"`
	ElementTimeout time.Duration `mapstructure:"element_timeout" yaml:"element_timeout" validate:"gt=0"`
	Delays         Delays        `mapstructure:"delays" yaml:"delays"`
}

// DefaultConfig returns the stock cart settings.
func DefaultConfig() Config {
	return Config{
		ClickDelay:     time.Second,
		ConfirmTimeout: 5 * time.Second,
		ConfirmPoll:    250 * time.Millisecond,
		ElementTimeout: 10 * time.Second,
		Delays: Delays{
			PageLoad: pacing.Between(2*time.Second, 4*time.Second),
			Pointer:  pacing.Between(200*time.Millisecond, 600*time.Millisecond),
			Between:  pacing.Between(1*time.Second, 3*time.Second),
		},
	}
}

// Executor performs add-to-cart actions.
type Executor struct {
	sessions *session.Manager
	guard    extract.Guard
	profile  *site.Profile
	pacer    *pacing.Pacer
	searcher Searcher
	cfg      Config
}

// New creates an Executor. searcher may be nil if ByIdentifier is never used
// without an active session.
func New(sessions *session.Manager, guard extract.Guard, profile *site.Profile, p *pacing.Pacer, searcher Searcher, cfg Config) *Executor {
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = DefaultConfig().ConfirmPoll
	}
	return &Executor{
		sessions: sessions,
		guard:    guard,
		profile:  profile,
		pacer:    p,
		searcher: searcher,
		cfg:      cfg,
	}
}

// AddTopSponsored opens the results for term and adds up to count entries
// carrying a visible sponsored label. Each add is recorded once its click
// returns; the cart is not checked.
func (e *Executor) AddTopSponsored(ctx context.Context, term string, count int) ([]ActionResult, error) {
	if count < 1 {
		return nil, &ActionError{Variant: TopSponsored, Err: ErrInvalidCount}
	}
	sess, err := e.sessions.Acquire(ctx)
	if err != nil {
		// Nothing was acquired, so there is nothing to release.
		logger.Error("cart action failed", "variant", TopSponsored, "error", err)
		return nil, &ActionError{Variant: TopSponsored, Err: err}
	}
	page := sess.Page()
	log := logger.With("session", sess.ID, "variant", TopSponsored)

	if err := e.open(ctx, page, e.profile.SearchURL(term)); err != nil {
		return nil, e.fail(TopSponsored, err)
	}
	e.sessions.RecordActivity()

	entries, err := e.entries(ctx, page, e.profile.LabelledSponsored)
	if err != nil {
		return nil, e.fail(TopSponsored, err)
	}
	if len(entries) > count {
		entries = entries[:count]
	}

	results := make([]ActionResult, 0, len(entries))
	for _, entry := range entries {
		res := e.describe(ctx, page, entry)
		btn, _, err := locator.Resolve[browser.Ref](ctx, e.profile.AddToCart, locator.OnPage(page).At(entry))
		switch {
		case ctx.Err() != nil:
			return results, e.fail(TopSponsored, ctx.Err())
		case err != nil:
			res.Outcome = NotFound
			log.Debug("no add-to-cart control", "title", res.Title)
		default:
			if err := page.ScriptClick(ctx, btn.Selector()); err != nil {
				if ctx.Err() != nil {
					return results, e.fail(TopSponsored, ctx.Err())
				}
				res.Outcome = Unconfirmed
				log.Warn("add-to-cart click failed", "title", res.Title, "error", err)
			} else {
				res.Outcome = Added
			}
			if err := e.pacer.Sleep(ctx, e.cfg.ClickDelay); err != nil {
				return results, e.fail(TopSponsored, err)
			}
		}
		results = append(results, res)
	}

	e.sessions.RecordActivity()
	log.Info("sponsored items processed", "term", term, "results", len(results))
	return results, nil
}

// AddCurrentSponsored clicks add-to-cart on the first limit sponsored entries
// of the page the active session is showing and returns how many adds were
// confirmed. Unconfirmed clicks still use up the limit.
func (e *Executor) AddCurrentSponsored(ctx context.Context, limit int) (int, error) {
	if limit < 1 {
		return 0, &ActionError{Variant: CurrentSponsored, Err: ErrInvalidCount}
	}
	sess, err := e.sessions.Current(ctx)
	if err != nil {
		return 0, &ActionError{Variant: CurrentSponsored, Err: err}
	}
	page := sess.Page()
	log := logger.With("session", sess.ID, "variant", CurrentSponsored)

	entries, err := e.entries(ctx, page, e.profile.TypedSponsored)
	if err != nil {
		return 0, e.fail(CurrentSponsored, err)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	added := 0
	for i, entry := range entries {
		outcome, err := e.addConfirmed(ctx, page, entry)
		if err != nil {
			return added, e.fail(CurrentSponsored, err)
		}
		switch outcome {
		case Added:
			added++
		case Unconfirmed:
			log.Warn("add not confirmed", "entry", i)
		default:
			log.Debug("no add-to-cart control", "entry", i)
		}
		if err := e.pacer.Wait(ctx, e.cfg.Delays.Between); err != nil {
			return added, e.fail(CurrentSponsored, err)
		}
	}

	e.sessions.RecordActivity()
	log.Info("sponsored items added", "added", added, "candidates", len(entries))
	return added, nil
}

// AddByIdentifier adds the entries with the given identifiers from the
// current results page. Without an active session it searches term once
// first. Identifiers that cannot be found yield NotFound and do not stop the
// batch.
func (e *Executor) AddByIdentifier(ctx context.Context, ids []string, term string) ([]ActionResult, error) {
	sess, err := e.sessions.Current(ctx)
	if errors.Is(err, session.ErrNoActiveSession) && e.searcher != nil {
		logger.Info("no active session, searching first", "term", term)
		if _, serr := e.searcher.Search(ctx, term); serr != nil {
			return nil, &ActionError{Variant: ByIdentifier, Err: serr}
		}
		sess, err = e.sessions.Current(ctx)
	}
	if err != nil {
		return nil, &ActionError{Variant: ByIdentifier, Err: err}
	}
	page := sess.Page()
	log := logger.With("session", sess.ID, "variant", ByIdentifier)

	results := make([]ActionResult, 0, len(ids))
	for _, id := range ids {
		res := ActionResult{Identifier: id, Outcome: NotFound}
		if !site.IdentifierPattern.MatchString(id) {
			log.Warn("rejecting malformed identifier", "id", id)
			results = append(results, res)
			continue
		}

		entry, _, err := locator.Resolve[browser.Ref](ctx, e.profile.EntryByID.Bind("id", id), locator.OnPage(page))
		if ctx.Err() != nil {
			return results, e.fail(ByIdentifier, ctx.Err())
		}
		if err != nil {
			log.Info("product not on page", "id", id)
			results = append(results, res)
			continue
		}

		described := e.describe(ctx, page, entry)
		res.Title, res.Link = described.Title, described.Link
		if res.Outcome, err = e.addConfirmed(ctx, page, entry); err != nil {
			return results, e.fail(ByIdentifier, err)
		}
		if res.Outcome == Unconfirmed {
			log.Warn("add not confirmed", "id", id)
		}
		results = append(results, res)

		if err := e.pacer.Wait(ctx, e.cfg.Delays.Between); err != nil {
			return results, e.fail(ByIdentifier, err)
		}
	}

	e.sessions.RecordActivity()
	return results, nil
}

// fail releases the session and wraps err.
func (e *Executor) fail(v Variant, err error) error {
	logger.Error("cart action failed", "variant", v, "error", err)
	e.sessions.Release()
	return &ActionError{Variant: v, Err: err}
}

func (e *Executor) open(ctx context.Context, page browser.Page, url string) error {
	if err := page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}
	if err := page.WaitPresent(ctx, "body", e.cfg.ElementTimeout); err != nil {
		return fmt.Errorf("waiting for page: %w", err)
	}
	if err := e.pacer.Wait(ctx, e.cfg.Delays.PageLoad); err != nil {
		return err
	}
	_, err := e.guard.EnsurePassable(ctx, page)
	return err
}

// entries resolves a list of entries. An empty result is not an error.
func (e *Executor) entries(ctx context.Context, page browser.Page, spec locator.Spec) ([]browser.Ref, error) {
	m, err := locator.ResolveAll[browser.Ref](ctx, spec, locator.OnPage(page))
	if errors.Is(err, locator.ErrNotFound) {
		logger.Info("no matching entries", "target", spec.Target)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Elements, nil
}

// addConfirmed clicks the entry's add-to-cart control like a user would and
// waits for the cart to change. Only context errors are returned.
func (e *Executor) addConfirmed(ctx context.Context, page browser.Page, entry browser.Ref) (Outcome, error) {
	btn, _, err := locator.Resolve[browser.Ref](ctx, e.profile.AddToCart, locator.OnPage(page).At(entry))
	if ctx.Err() != nil {
		return NotFound, ctx.Err()
	}
	if err != nil {
		return NotFound, nil
	}
	sel := btn.Selector()
	before := e.readCart(ctx, page)

	if err := page.ScrollIntoView(ctx, sel); err != nil {
		logger.Debug("scroll into view failed", "error", err)
	}
	if err := e.pacer.MoveTo(ctx, page, sel, e.cfg.Delays.Pointer); err != nil {
		if ctx.Err() != nil {
			return Unconfirmed, ctx.Err()
		}
		logger.Debug("pointer move failed", "error", err)
	}
	if err := page.Click(ctx, sel); err != nil {
		logger.Debug("click failed, using script click", "error", err)
		if err := page.ScriptClick(ctx, sel); err != nil {
			if ctx.Err() != nil {
				return Unconfirmed, ctx.Err()
			}
			logger.Warn("add-to-cart click failed", "error", err)
			return Unconfirmed, nil
		}
	}

	ok, err := e.confirm(ctx, page, before)
	if err != nil {
		return Unconfirmed, err
	}
	if !ok {
		return Unconfirmed, nil
	}
	return Added, nil
}

// describe reads title and link of an entry. Missing values stay empty.
func (e *Executor) describe(ctx context.Context, page browser.Page, entry browser.Ref) ActionResult {
	res := ActionResult{
		Title: e.read(ctx, page, entry, e.profile.Title),
		Link:  e.profile.Resolve(e.read(ctx, page, entry, e.profile.Link)),
	}
	res.Identifier = e.read(ctx, page, entry, e.profile.ASIN)
	return res
}

func (e *Executor) read(ctx context.Context, page browser.Page, entry browser.Ref, f site.Field) string {
	if len(f.Strategies) == 0 {
		return ""
	}
	el, _, err := locator.Resolve[browser.Ref](ctx, f.Spec, locator.OnPage(page).At(entry))
	if err != nil {
		return ""
	}
	if f.Attr == "" {
		text, err := page.TextOf(ctx, el.Selector())
		if err != nil {
			return ""
		}
		return f.Clean(text)
	}
	v, _, err := page.AttrOf(ctx, el.Selector(), f.Attr)
	if err != nil {
		return ""
	}
	return f.Clean(v)
}
