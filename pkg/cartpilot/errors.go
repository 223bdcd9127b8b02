package cartpilot

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/cart"
	"github.com/jmylchreest/cartpilot/pkg/evasion"
	"github.com/jmylchreest/cartpilot/pkg/extract"
	"github.com/jmylchreest/cartpilot/pkg/session"
)

// Kind classifies an error for callers that report it to a user.
type Kind string

const (
	KindSession   Kind = "session"
	KindEvasion   Kind = "evasion"
	KindSearch    Kind = "search"
	KindNoSession Kind = "no_session"
	KindAction    Kind = "action"
	KindError     Kind = "error"
)

// Description is a one-line, user-facing account of an error.
type Description struct {
	Kind    Kind
	Message string
}

func (d Description) String() string { return d.Message }

var stageText = map[extract.Stage]string{
	extract.StageInput:   "the search term was empty",
	extract.StageSession: "the browser could not be started",
	extract.StageSearch:  "the search box could not be used",
	extract.StageEvasion: "the site kept showing a challenge page",
	extract.StageCollect: "results could not be read",
}

// Describe maps any error returned by a Client to a Description. The
// message never includes browser-level detail.
func Describe(err error) Description {
	var (
		serr *extract.SearchError
		aerr *cart.ActionError
		sess *session.Error
	)
	switch {
	case err == nil:
		return Description{}
	case errors.Is(err, session.ErrNoActiveSession):
		return Description{KindNoSession, "No active browser session. Run a search first."}
	case errors.Is(err, evasion.ErrExhausted):
		return Description{KindEvasion, "The site is showing a challenge page that could not be bypassed. Try again later."}
	case errors.Is(err, session.ErrNotReady):
		return Description{KindSession, "The browser session is still starting. Try again shortly."}
	case errors.As(err, &serr):
		return Description{KindSearch, fmt.Sprintf("Search for %q failed: %s.", serr.Term, stageText[serr.Stage])}
	case errors.As(err, &sess):
		return Description{KindSession, "The browser session could not be started or has stopped responding."}
	case errors.Is(err, cart.ErrInvalidCount):
		return Description{KindAction, "The number of items must be at least 1."}
	case errors.As(err, &aerr):
		return Description{KindAction, fmt.Sprintf("Adding to cart (%s) failed. The session was reset.", aerr.Variant)}
	default:
		logger.Debug("unclassified error", "error", err)
		return Description{KindError, "Something went wrong. Run with --debug for details."}
	}
}
