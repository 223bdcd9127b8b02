// Package browser defines the page-level contract the rest of cartpilot drives
// and a chromedp-backed implementation of it.
//
// Elements on a live page are addressed by Ref: Tag evaluates a CSS or XPath
// query inside the page, stamps every match with a reference attribute and
// returns one Ref per match. A Ref renders to a plain CSS selector, so all
// follow-up actions (click, scroll, read text) take CSS selectors only.
package browser

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/chromedp/chromedp/kb"
)

// RefAttr is the attribute Tag stamps onto matched elements.
const RefAttr = "data-cp-ref"

// KeyEnter submits a focused form field when passed to SendKeys.
const KeyEnter = kb.Enter

// ErrNoElement is returned by element actions whose selector matches nothing.
var ErrNoElement = errors.New("no element matches selector")

// Ref identifies one element previously matched by Page.Tag.
type Ref string

// Selector returns a CSS selector matching exactly the referenced element.
func (r Ref) Selector() string {
	return "[" + RefAttr + "=" + strconv.Quote(string(r)) + "]"
}

// Query is a single element query evaluated inside the page.
type Query struct {
	Expr  string
	XPath bool
	// Within restricts the query to descendants of a previously tagged
	// element. Empty means the whole document.
	Within Ref
}

// Box is an element's bounding rectangle in viewport coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	URL(ctx context.Context) (string, error)

	// HTML returns the serialized DOM of the current document.
	HTML(ctx context.Context) (string, error)
	// Text returns the rendered text of the document body.
	Text(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	ClearCookies(ctx context.Context) error
	SetUserAgent(ctx context.Context, ua string) error
	// Eval runs a script and discards its result.
	Eval(ctx context.Context, script string) error

	Tag(ctx context.Context, q Query) ([]Ref, error)
	Count(ctx context.Context, sel string) (int, error)
	TextOf(ctx context.Context, sel string) (string, error)
	AttrOf(ctx context.Context, sel, name string) (string, bool, error)
	WaitPresent(ctx context.Context, sel string, timeout time.Duration) error

	// Click dispatches a real pointer click on a visible element.
	Click(ctx context.Context, sel string) error
	// ScriptClick calls element.click() from page script.
	ScriptClick(ctx context.Context, sel string) error
	ScrollIntoView(ctx context.Context, sel string) error
	Box(ctx context.Context, sel string) (Box, error)
	MoveMouse(ctx context.Context, x, y float64) error
	SendKeys(ctx context.Context, sel, keys string) error

	ScrollHeight(ctx context.Context) (int64, error)
	ScrollTo(ctx context.Context, y int64) error
}

// Handle owns a running browser and its single page.
type Handle interface {
	Page() Page
	// Ping is a cheap liveness probe.
	Ping(ctx context.Context) error
	Close() error
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context) (Handle, error)
}
