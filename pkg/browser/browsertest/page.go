// Package browsertest provides an in-memory browser.Page over static HTML
// fixtures, in the spirit of net/http/httptest.
//
// CSS queries are evaluated with goquery and XPath queries with htmlquery, so
// locator strategies behave as they would against a rendered document.
// Interactions that would change the page in a real browser (clicks, key
// presses, script evaluation) are routed to optional hooks.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/jmylchreest/cartpilot/pkg/browser"
)

// ErrNotVisible is returned by Click for elements carrying the hidden attribute.
var ErrNotVisible = errors.New("element not visible")

// Page is a fake browser.Page. The zero value is not usable; call NewPage.
type Page struct {
	// Routes maps URLs to documents. Lookups fall back to the URL without
	// its query string, then to Fallback.
	Routes   map[string]string
	Fallback string

	// Heights is consumed front to back by ScrollHeight; once drained the
	// last value sticks.
	Heights []int64

	OnClick func(p *Page, el *goquery.Selection) error
	OnKeys  func(p *Page, el *goquery.Selection, keys string) error
	OnEval  func(p *Page, script string) error

	// OnScroll runs after every ScrollTo, e.g. to load entries lazily.
	OnScroll func(p *Page, y int64) error

	// Fail forces the named method (e.g. "Navigate", "Click") to error.
	Fail map[string]error

	mu        sync.Mutex
	doc       *html.Node
	url       string
	history   []string
	pos       int
	refSeq    int
	height    int64
	userAgent string
	cookies   int
	calls     []string
}

var _ browser.Page = (*Page)(nil)

// NewPage creates a page serving routes, initially showing an empty document.
func NewPage(routes map[string]string) *Page {
	if routes == nil {
		routes = map[string]string{}
	}
	p := &Page{Routes: routes, pos: -1}
	p.doc = mustParse("<html><head></head><body></body></html>")
	return p
}

func mustParse(src string) *html.Node {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("browsertest: parsing fixture: %v", err))
	}
	return doc
}

// SetHTML replaces the current document without touching history.
func (p *Page) SetHTML(src string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = mustParse(src)
}

// Calls returns the recorded method calls, e.g. "Navigate https://x".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// CallCount counts recorded calls whose text starts with prefix.
func (p *Page) CallCount(prefix string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// UserAgent returns the last user-agent override.
func (p *Page) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent
}

// CookieClears reports how often ClearCookies was called.
func (p *Page) CookieClears() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies
}

func (p *Page) record(method string, args ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := method
	if len(args) > 0 {
		entry += " " + strings.Join(args, " ")
	}
	p.calls = append(p.calls, entry)
	return p.Fail[method]
}

func (p *Page) routeLocked(raw string) string {
	if src, ok := p.Routes[raw]; ok {
		return src
	}
	if u, err := url.Parse(raw); err == nil && u.RawQuery != "" {
		u.RawQuery = ""
		if src, ok := p.Routes[u.String()]; ok {
			return src
		}
	}
	if p.Fallback != "" {
		return p.Fallback
	}
	return "<html><head></head><body></body></html>"
}

func (p *Page) Navigate(ctx context.Context, raw string) error {
	if err := p.record("Navigate", raw); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history[:p.pos+1], raw)
	p.pos = len(p.history) - 1
	p.url = raw
	p.doc = mustParse(p.routeLocked(raw))
	return ctx.Err()
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.record("Reload"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url != "" {
		p.doc = mustParse(p.routeLocked(p.url))
	}
	return ctx.Err()
}

func (p *Page) move(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.pos + delta
	if next < 0 || next >= len(p.history) {
		return
	}
	p.pos = next
	p.url = p.history[next]
	p.doc = mustParse(p.routeLocked(p.url))
}

func (p *Page) Back(ctx context.Context) error {
	if err := p.record("Back"); err != nil {
		return err
	}
	p.move(-1)
	return ctx.Err()
}

func (p *Page) Forward(ctx context.Context) error {
	if err := p.record("Forward"); err != nil {
		return err
	}
	p.move(1)
	return ctx.Err()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.record("URL"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.record("HTML"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var sb strings.Builder
	if err := html.Render(&sb, p.doc); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (p *Page) Text(ctx context.Context) (string, error) {
	if err := p.record("Text"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	body := goquery.NewDocumentFromNode(p.doc).Find("body")
	return strings.Join(strings.Fields(body.Text()), " "), nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.record("Screenshot"); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) ClearCookies(ctx context.Context) error {
	if err := p.record("ClearCookies"); err != nil {
		return err
	}
	p.mu.Lock()
	p.cookies++
	p.mu.Unlock()
	return nil
}

func (p *Page) SetUserAgent(ctx context.Context, ua string) error {
	if err := p.record("SetUserAgent", ua); err != nil {
		return err
	}
	p.mu.Lock()
	p.userAgent = ua
	p.mu.Unlock()
	return nil
}

func (p *Page) Eval(ctx context.Context, script string) error {
	if err := p.record("Eval", script); err != nil {
		return err
	}
	if p.OnEval != nil {
		return p.OnEval(p, script)
	}
	return nil
}

func (p *Page) Tag(ctx context.Context, q browser.Query) ([]browser.Ref, error) {
	if err := p.record("Tag", q.Expr); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	root := p.doc
	if q.Within != "" {
		sel := goquery.NewDocumentFromNode(p.doc).Find(q.Within.Selector())
		if sel.Length() == 0 {
			return nil, nil
		}
		root = sel.Nodes[0]
	}

	var nodes []*html.Node
	if q.XPath {
		found, err := htmlquery.QueryAll(root, q.Expr)
		if err != nil {
			return nil, fmt.Errorf("evaluating xpath %q: %w", q.Expr, err)
		}
		for _, n := range found {
			if n.Type == html.ElementNode {
				nodes = append(nodes, n)
			}
		}
	} else {
		nodes = goquery.NewDocumentFromNode(root).Find(q.Expr).Nodes
	}

	refs := make([]browser.Ref, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, browser.Ref(p.stampLocked(n)))
	}
	return refs, nil
}

func (p *Page) stampLocked(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == browser.RefAttr {
			return a.Val
		}
	}
	p.refSeq++
	id := "r" + strconv.Itoa(p.refSeq)
	n.Attr = append(n.Attr, html.Attribute{Key: browser.RefAttr, Val: id})
	return id
}

// find returns the first element matching sel. Callers hold no lock.
func (p *Page) find(sel string) (*goquery.Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := goquery.NewDocumentFromNode(p.doc).Find(sel).First()
	if s.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNoElement, sel)
	}
	return s, nil
}

func (p *Page) Count(ctx context.Context, sel string) (int, error) {
	if err := p.record("Count", sel); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return goquery.NewDocumentFromNode(p.doc).Find(sel).Length(), nil
}

func (p *Page) TextOf(ctx context.Context, sel string) (string, error) {
	if err := p.record("TextOf", sel); err != nil {
		return "", err
	}
	s, err := p.find(sel)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(strings.Fields(s.Text()), " "), nil
}

func (p *Page) AttrOf(ctx context.Context, sel, name string) (string, bool, error) {
	if err := p.record("AttrOf", sel, name); err != nil {
		return "", false, err
	}
	s, err := p.find(sel)
	if err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := s.Attr(name)
	return v, ok, nil
}

func (p *Page) WaitPresent(ctx context.Context, sel string, timeout time.Duration) error {
	if err := p.record("WaitPresent", sel); err != nil {
		return err
	}
	if _, err := p.find(sel); err != nil {
		return fmt.Errorf("waiting %s for %s: %w", timeout, sel, context.DeadlineExceeded)
	}
	return nil
}

func (p *Page) click(method, sel string) error {
	if err := p.record(method, sel); err != nil {
		return err
	}
	s, err := p.find(sel)
	if err != nil {
		return err
	}
	if method == "Click" {
		if _, hidden := s.Attr("hidden"); hidden {
			return fmt.Errorf("%w: %s", ErrNotVisible, sel)
		}
	}
	if p.OnClick != nil {
		return p.OnClick(p, s)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, sel string) error {
	return p.click("Click", sel)
}

func (p *Page) ScriptClick(ctx context.Context, sel string) error {
	return p.click("ScriptClick", sel)
}

func (p *Page) ScrollIntoView(ctx context.Context, sel string) error {
	if err := p.record("ScrollIntoView", sel); err != nil {
		return err
	}
	_, err := p.find(sel)
	return err
}

func (p *Page) Box(ctx context.Context, sel string) (browser.Box, error) {
	if err := p.record("Box", sel); err != nil {
		return browser.Box{}, err
	}
	if _, err := p.find(sel); err != nil {
		return browser.Box{}, err
	}
	return browser.Box{X: 100, Y: 200, Width: 80, Height: 30}, nil
}

func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	return p.record("MoveMouse", strconv.FormatFloat(x, 'f', 0, 64), strconv.FormatFloat(y, 'f', 0, 64))
}

func (p *Page) SendKeys(ctx context.Context, sel, keys string) error {
	if err := p.record("SendKeys", sel, keys); err != nil {
		return err
	}
	s, err := p.find(sel)
	if err != nil {
		return err
	}
	if p.OnKeys != nil {
		return p.OnKeys(p, s, keys)
	}
	return nil
}

func (p *Page) ScrollHeight(ctx context.Context) (int64, error) {
	if err := p.record("ScrollHeight"); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Heights) > 0 {
		p.height = p.Heights[0]
		p.Heights = p.Heights[1:]
	}
	return p.height, nil
}

func (p *Page) ScrollTo(ctx context.Context, y int64) error {
	if err := p.record("ScrollTo", strconv.FormatInt(y, 10)); err != nil {
		return err
	}
	if p.OnScroll != nil {
		return p.OnScroll(p, y)
	}
	return nil
}
