package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/cartpilot/internal/logger"
)

// ChromeLauncher starts headless Chrome sessions through chromedp.
type ChromeLauncher struct {
	config Config
}

// NewChromeLauncher creates a launcher with the given configuration.
// Zero-valued fields fall back to DefaultConfig.
func NewChromeLauncher(cfg Config) *ChromeLauncher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = def.UserAgents
	}
	return &ChromeLauncher{config: cfg}
}

// Launch starts a browser, injects the stealth script and opens a blank page.
// The browser outlives ctx; only Close tears it down.
func (l *ChromeLauncher) Launch(ctx context.Context) (Handle, error) {
	ua := RandomUserAgent(l.config.Rand, l.config.UserAgents)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(l.config, ua)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Logf))

	h := &chromeHandle{
		cancelAlloc: cancelAlloc,
		cancelTab:   cancelTab,
		tabCtx:      tabCtx,
	}
	h.page = &chromePage{tabCtx: tabCtx, timeout: l.config.Timeout}

	// The first Run allocates the browser and binds it to tabCtx, so it
	// must not be given a shorter-lived context.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("starting browser: %w", err)
		}
	case <-ctx.Done():
		h.Close()
		<-started
		return nil, ctx.Err()
	}

	if err := h.page.run(ctx, InjectStealthScript(), chromedp.Navigate("about:blank")); err != nil {
		h.Close()
		return nil, fmt.Errorf("preparing page: %w", err)
	}

	logger.Debug("browser launched", "headless", l.config.Headless, "user_agent", ua)
	return h, nil
}

type chromeHandle struct {
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	tabCtx      context.Context
	page        *chromePage
	closeOnce   sync.Once
}

func (h *chromeHandle) Page() Page { return h.page }

func (h *chromeHandle) Ping(ctx context.Context) error {
	var u string
	return h.page.run(ctx, chromedp.Location(&u))
}

func (h *chromeHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = chromedp.Cancel(h.tabCtx)
		h.cancelTab()
		h.cancelAlloc()
	})
	return err
}

type chromePage struct {
	tabCtx  context.Context
	timeout time.Duration
}

// run executes actions on the tab. The caller's ctx bounds the call but
// cancelling it never closes the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	return p.runWithin(ctx, p.timeout, actions...)
}

func (p *chromePage) runWithin(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *chromePage) Back(ctx context.Context) error {
	return p.run(ctx, chromedp.NavigateBack())
}

func (p *chromePage) Forward(ctx context.Context) error {
	return p.run(ctx, chromedp.NavigateForward())
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Text(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.runWithin(ctx, 5*time.Second, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (p *chromePage) ClearCookies(ctx context.Context) error {
	return p.run(ctx, network.ClearBrowserCookies())
}

func (p *chromePage) SetUserAgent(ctx context.Context, ua string) error {
	return p.run(ctx, emulation.SetUserAgentOverride(ua))
}

func (p *chromePage) Eval(ctx context.Context, script string) error {
	return p.run(ctx, chromedp.Evaluate(script, nil))
}

func (p *chromePage) Tag(ctx context.Context, q Query) ([]Ref, error) {
	var ids []string
	if err := p.run(ctx, chromedp.Evaluate(tagJS(q), &ids)); err != nil {
		return nil, err
	}
	refs := make([]Ref, len(ids))
	for i, id := range ids {
		refs[i] = Ref(id)
	}
	return refs, nil
}

func (p *chromePage) Count(ctx context.Context, sel string) (int, error) {
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsArgs(sel)...)
	err := p.run(ctx, chromedp.Evaluate(script, &n))
	return n, err
}

func (p *chromePage) element(ctx context.Context, sel, body string) (elementResult, error) {
	var res elementResult
	if err := p.run(ctx, chromedp.Evaluate(onElementJS(sel, body), &res)); err != nil {
		return res, err
	}
	return res, res.err(sel)
}

func (p *chromePage) TextOf(ctx context.Context, sel string) (string, error) {
	res, err := p.element(ctx, sel, `return {found: true, text: (el.innerText || el.textContent || '').trim()};`)
	return res.Text, err
}

func (p *chromePage) AttrOf(ctx context.Context, sel, name string) (string, bool, error) {
	body := fmt.Sprintf(`var n = %s; return {found: true, has: el.hasAttribute(n), text: el.getAttribute(n) || ''};`, jsArgs(name)...)
	res, err := p.element(ctx, sel, body)
	return res.Text, res.Has, err
}

func (p *chromePage) WaitPresent(ctx context.Context, sel string, timeout time.Duration) error {
	return p.runWithin(ctx, timeout, chromedp.WaitReady(sel, chromedp.ByQuery))
}

func (p *chromePage) Click(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

func (p *chromePage) ScriptClick(ctx context.Context, sel string) error {
	_, err := p.element(ctx, sel, `el.click(); return {found: true};`)
	return err
}

func (p *chromePage) ScrollIntoView(ctx context.Context, sel string) error {
	_, err := p.element(ctx, sel, `el.scrollIntoView({block: 'center', behavior: 'smooth'}); return {found: true};`)
	return err
}

func (p *chromePage) Box(ctx context.Context, sel string) (Box, error) {
	res, err := p.element(ctx, sel, `var r = el.getBoundingClientRect();
return {found: true, x: r.left, y: r.top, width: r.width, height: r.height};`)
	return Box{X: res.X, Y: res.Y, Width: res.Width, Height: res.Height}, err
}

func (p *chromePage) MoveMouse(ctx context.Context, x, y float64) error {
	return p.run(ctx, input.DispatchMouseEvent(input.MouseMoved, x, y))
}

func (p *chromePage) SendKeys(ctx context.Context, sel, keys string) error {
	return p.run(ctx, chromedp.SendKeys(sel, keys, chromedp.ByQuery))
}

func (p *chromePage) ScrollHeight(ctx context.Context) (int64, error) {
	var h int64
	err := p.run(ctx, chromedp.Evaluate(`Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)`, &h))
	return h, err
}

func (p *chromePage) ScrollTo(ctx context.Context, y int64) error {
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf(`window.scrollTo(0, %d)`, y), nil))
}
