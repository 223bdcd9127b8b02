package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

const tagScript = `(function(expr, isXPath, within, attr) {
    var root = document;
    if (within) {
        root = document.querySelector('[' + attr + '="' + within + '"]');
        if (!root) { return []; }
    }
    var found = [];
    if (isXPath) {
        var snap = document.evaluate(expr, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
        for (var i = 0; i < snap.snapshotLength; i++) {
            var n = snap.snapshotItem(i);
            if (n.nodeType === 1) { found.push(n); }
        }
    } else {
        found = Array.prototype.slice.call(root.querySelectorAll(expr));
    }
    window.__cpRefSeq = window.__cpRefSeq || 0;
    return found.map(function(el) {
        if (!el.hasAttribute(attr)) { el.setAttribute(attr, 'r' + (++window.__cpRefSeq)); }
        return el.getAttribute(attr);
    });
})(%s, %s, %s, %s)`

const elementScript = `(function(sel) {
    var el = document.querySelector(sel);
    if (!el) { return {found: false}; }
    %s
})(%s)`

// jsArgs JSON-encodes each argument into a script literal.
func jsArgs(args ...any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			b = []byte("null")
		}
		out[i] = string(b)
	}
	return out
}

func tagJS(q Query) string {
	return fmt.Sprintf(tagScript, jsArgs(q.Expr, q.XPath, string(q.Within), RefAttr)...)
}

// onElementJS wraps body, which sees the matched element as el and must
// return an object carrying found: true.
func onElementJS(sel, body string) string {
	return fmt.Sprintf(elementScript, strings.TrimSpace(body), jsArgs(sel)[0])
}

type elementResult struct {
	Found  bool    `json:"found"`
	Text   string  `json:"text"`
	Has    bool    `json:"has"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r elementResult) err(sel string) error {
	if r.Found {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNoElement, sel)
}
