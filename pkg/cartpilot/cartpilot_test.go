package cartpilot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/browser"
	"github.com/jmylchreest/cartpilot/pkg/browser/browsertest"
	"github.com/jmylchreest/cartpilot/pkg/cart"
	"github.com/jmylchreest/cartpilot/pkg/evasion"
	"github.com/jmylchreest/cartpilot/pkg/extract"
	"github.com/jmylchreest/cartpilot/pkg/pacing"
	"github.com/jmylchreest/cartpilot/pkg/session"
)

const (
	homeHTML = `<html><body><form role="search"><input type="text" id="twotabsearchtextbox"></form>
<span id="nav-cart-count">0</span></body></html>`
	resultsHTML = `<html><body><span id="nav-cart-count">0</span>
<div data-component-type="s-search-result" data-asin="B0DESK0001">
  <span class="s-label-popover-default"><span>Sponsored</span></span>
  <h2><a href="/dp/B0DESK0001"><span>Standing Desk</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$199.00</span></span>
  <input type="submit" value="Add to Cart">
</div>
<div data-component-type="s-search-result" data-asin="B0DESK0002">
  <h2><a href="/dp/B0DESK0002"><span>Desk Lamp</span></a></h2>
  <span class="a-price"><span class="a-offscreen">$25.00</span></span>
  <input type="submit" value="Add to Cart">
</div>
</body></html>`
)

func fixturePage() *browsertest.Page {
	page := browsertest.NewPage(map[string]string{"https://www.amazon.com": homeHTML})
	page.OnKeys = func(p *browsertest.Page, _ *goquery.Selection, keys string) error {
		if keys == browser.KeyEnter {
			p.SetHTML(resultsHTML)
		}
		return nil
	}
	adds := 0
	page.OnClick = func(_ *browsertest.Page, el *goquery.Selection) error {
		if el.AttrOr("value", "") == "Add to Cart" {
			adds++
			el.Closest("body").Find("#nav-cart-count").SetText(fmt.Sprint(adds))
		}
		return nil
	}
	return page
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Seed = 11
	cfg.Evasion.ScreenshotDir = t.TempDir()
	return cfg
}

func newTestClient(t *testing.T) (*Client, *browsertest.Launcher) {
	t.Helper()
	page := fixturePage()
	l := &browsertest.Launcher{NewPage: func() *browsertest.Page { return page }}
	c, err := New(testConfig(t), WithLauncher(l), WithSleep(pacing.NoSleep))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, l
}

// --- Config Tests ---

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestConfig_InvalidValues(t *testing.T) {
	tests := map[string]func(*Config){
		"zero evasion attempts": func(c *Config) { c.Evasion.MaxAttempts = 0 },
		"zero idle timeout":     func(c *Config) { c.Session.IdleTimeout = 0 },
		"negative pages":        func(c *Config) { c.Search.MaxPages = -1 },
		"inverted delay range": func(c *Config) {
			c.Search.Delays.Typing.Min, c.Search.Delays.Typing.Max = c.Search.Delays.Typing.Max, c.Search.Delays.Typing.Min
		},
		"zero confirm poll": func(c *Config) { c.Cart.ConfirmPoll = 0 },
	}
	for name, mutate := range tests {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.MaxAttempts = 0
	if _, err := New(cfg, WithLauncher(&browsertest.Launcher{})); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestNew_LoadsSiteProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	if err := os.WriteFile(path, []byte("name: amazon-uk\nbase_url: https://www.amazon.co.uk\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Site.Profile = path

	c, err := New(cfg, WithLauncher(&browsertest.Launcher{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()
	if c.Site() != "amazon-uk" {
		t.Errorf("site = %q", c.Site())
	}
}

func TestNew_MissingSiteProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Site.Profile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(cfg, WithLauncher(&browsertest.Launcher{})); err == nil {
		t.Error("expected error for a missing profile file")
	}
}

func TestNew_WithLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	l := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() { logger.Init(logger.Options{}) })

	c, err := New(DefaultConfig(), WithLauncher(&browsertest.Launcher{}), WithLogger(l))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()
	if !strings.Contains(buf.String(), "client ready") {
		t.Errorf("expected client log through the supplied logger, got %q", buf.String())
	}
}

// --- Client Tests ---

func TestClient_SearchThenAdd(t *testing.T) {
	c, l := newTestClient(t)
	ctx := context.Background()

	if info := c.Session(); info.State != "uninitialized" {
		t.Errorf("state before first call = %s", info.State)
	}

	res, err := c.Search(ctx, "desk")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 2 || res.Records[0].Title != "Standing Desk" || !res.Records[0].Sponsored {
		t.Errorf("result = %+v", res)
	}
	if c.Session().ID != res.SessionID {
		t.Error("session snapshot should match the search session")
	}

	added, err := c.AddCurrentSponsored(ctx, 5)
	if err != nil {
		t.Fatalf("AddCurrentSponsored() error = %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}

	results, err := c.AddByIdentifier(ctx, []string{"B0DESK0002"}, "desk")
	if err != nil {
		t.Fatalf("AddByIdentifier() error = %v", err)
	}
	if len(results) != 1 || results[0].Outcome != cart.Added {
		t.Errorf("results = %+v", results)
	}
	if l.Calls() != 1 {
		t.Errorf("launches = %d, want one shared session", l.Calls())
	}
}

func TestClient_AddCurrentWithoutSession(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.AddCurrentSponsored(context.Background(), 1)
	if d := Describe(err); d.Kind != KindNoSession {
		t.Errorf("Describe() = %+v", d)
	}
}

func TestClient_CloseReleasesSession(t *testing.T) {
	c, l := newTestClient(t)
	if _, err := c.Search(context.Background(), "desk"); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !l.Handles()[0].Closed() {
		t.Error("browser should be closed")
	}
	if c.Session().ID != "" {
		t.Error("session should be cleared")
	}
}

// --- Describe Tests ---

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"no session", &cart.ActionError{Variant: cart.CurrentSponsored, Err: session.ErrNoActiveSession}, KindNoSession},
		{"challenge", &extract.SearchError{Stage: extract.StageEvasion, Term: "x", Err: &evasion.ExhaustedError{Cycles: 3}}, KindEvasion},
		{"not ready", &extract.SearchError{Stage: extract.StageSession, Term: "x", Err: session.ErrNotReady}, KindSession},
		{"search", &extract.SearchError{Stage: extract.StageSearch, Term: "desk", Err: errors.New("no box")}, KindSearch},
		{"session", &session.Error{Op: "create", Err: errors.New("exec: chrome not found")}, KindSession},
		{"count", &cart.ActionError{Variant: cart.TopSponsored, Err: cart.ErrInvalidCount}, KindAction},
		{"action", &cart.ActionError{Variant: cart.TopSponsored, Err: errors.New("cdp: target closed")}, KindAction},
		{"other", errors.New("boom"), KindError},
	}
	for _, tt := range tests {
		d := Describe(tt.err)
		if d.Kind != tt.kind {
			t.Errorf("%s: kind = %s, want %s", tt.name, d.Kind, tt.kind)
		}
		if d.Message == "" {
			t.Errorf("%s: empty message", tt.name)
		}
	}
}

func TestDescribe_HidesBrowserDetail(t *testing.T) {
	err := &cart.ActionError{Variant: cart.ByIdentifier, Err: errors.New("cdp: -32000 target closed")}
	if d := Describe(err); d.Message != "Adding to cart (by-identifier) failed. The session was reset." {
		t.Errorf("message = %q", d.Message)
	}
	d := Describe(&extract.SearchError{Stage: extract.StageSearch, Term: "desk", Err: errors.New("cdp")})
	if d.Message != `Search for "desk" failed: the search box could not be used.` {
		t.Errorf("message = %q", d.Message)
	}
}

func TestDescribe_UnclassifiedHidesRawText(t *testing.T) {
	d := Describe(fmt.Errorf("wrapped: %w", errors.New("cdp: websocket: close 1006 ws://127.0.0.1:9222")))
	if d.Kind != KindError {
		t.Errorf("kind = %s, want %s", d.Kind, KindError)
	}
	if strings.Contains(d.Message, "cdp") || strings.Contains(d.Message, "127.0.0.1") {
		t.Errorf("message leaks the raw error: %q", d.Message)
	}
}

func TestDescribe_Nil(t *testing.T) {
	if d := Describe(nil); d.Kind != "" || d.Message != "" {
		t.Errorf("Describe(nil) = %+v", d)
	}
}
