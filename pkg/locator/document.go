package locator

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// DocumentFinder evaluates strategies against a parsed DOM snapshot.
// CSS goes through goquery, XPath through htmlquery.
type DocumentFinder struct {
	doc  *goquery.Selection
	root *goquery.Selection
}

var _ Finder[*goquery.Selection] = DocumentFinder{}

// InDocument returns a finder over doc. Element-scoped strategies match
// nothing until a root is set with At.
func InDocument(doc *goquery.Document) DocumentFinder {
	return DocumentFinder{doc: doc.Selection}
}

// At returns a finder whose element-scoped strategies are relative to root.
func (f DocumentFinder) At(root *goquery.Selection) DocumentFinder {
	f.root = root
	return f
}

// FindAll implements Finder.
func (f DocumentFinder) FindAll(_ context.Context, s Strategy) ([]*goquery.Selection, error) {
	base := f.doc
	if s.Scope == Element {
		base = f.root
	}
	if base == nil || base.Length() == 0 {
		return nil, nil
	}

	if s.Kind == CSS {
		var out []*goquery.Selection
		base.Find(s.Expr).Each(func(_ int, sel *goquery.Selection) {
			out = append(out, sel)
		})
		return out, nil
	}

	nodes, err := htmlquery.QueryAll(base.Nodes[0], s.Expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", s.Expr, err)
	}
	out := make([]*goquery.Selection, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, goquery.NewDocumentFromNode(n).Selection)
	}
	return out, nil
}
