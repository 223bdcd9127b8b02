package locator

import (
	"context"

	"github.com/jmylchreest/cartpilot/pkg/browser"
)

// PageFinder evaluates strategies inside the live page and returns tagged
// element references.
type PageFinder struct {
	page browser.Page
	root browser.Ref
}

var _ Finder[browser.Ref] = PageFinder{}

// OnPage returns a finder over the current document of page.
func OnPage(page browser.Page) PageFinder {
	return PageFinder{page: page}
}

// At returns a finder whose element-scoped strategies are relative to root.
func (f PageFinder) At(root browser.Ref) PageFinder {
	f.root = root
	return f
}

// FindAll implements Finder.
func (f PageFinder) FindAll(ctx context.Context, s Strategy) ([]browser.Ref, error) {
	q := browser.Query{Expr: s.Expr, XPath: s.Kind == XPath}
	if s.Scope == Element {
		if f.root == "" {
			return nil, nil
		}
		q.Within = f.root
	}
	return f.page.Tag(ctx, q)
}
