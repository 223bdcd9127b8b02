package output

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/jmylchreest/cartpilot/pkg/cart"
	"github.com/jmylchreest/cartpilot/pkg/cartpilot"
	"github.com/jmylchreest/cartpilot/pkg/extract"
)

// Status of a command.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Envelope is the one shape every command result is written in.
type Envelope struct {
	Status  Status `json:"status" yaml:"status"`
	Kind    string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Message string `json:"message" yaml:"message"`
	Count   int    `json:"count" yaml:"count"`

	Term     string              `json:"term,omitempty" yaml:"term,omitempty"`
	Pages    int                 `json:"pages,omitempty" yaml:"pages,omitempty"`
	Products []extract.Record    `json:"products,omitempty" yaml:"products,omitempty"`
	Actions  []cart.ActionResult `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Search wraps a search result.
func Search(res *extract.Result) Envelope {
	return Envelope{
		Status: StatusOK,
		Message: fmt.Sprintf("Found %s for %q across %s.",
			english.Plural(res.Total, "product", ""), res.Term, english.Plural(res.Pages, "page", "")),
		Count:    res.Total,
		Term:     res.Term,
		Pages:    res.Pages,
		Products: res.Records,
	}
}

// Actions wraps per-item cart results. Count is the number of Added
// outcomes.
func Actions(results []cart.ActionResult) Envelope {
	added := 0
	for _, r := range results {
		if r.Outcome == cart.Added {
			added++
		}
	}
	return Envelope{
		Status:  StatusOK,
		Message: fmt.Sprintf("Added %s of %s to the cart.", humanize.Comma(int64(added)), english.Plural(len(results), "requested product", "")),
		Count:   added,
		Actions: results,
	}
}

// Added reports a confirmed-add count.
func Added(n int) Envelope {
	return Envelope{
		Status:  StatusOK,
		Message: fmt.Sprintf("Successfully added %s to the cart.", english.Plural(n, "product", "")),
		Count:   n,
	}
}

// Error wraps a described error.
func Error(d cartpilot.Description) Envelope {
	return Envelope{
		Status:  StatusError,
		Kind:    string(d.Kind),
		Message: d.Message,
	}
}
