package cart

import (
	"context"
	"strings"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/browser"
)

// cartState is what the page says about the cart at one instant.
type cartState struct {
	counter  string
	messages int
}

func (e *Executor) readCart(ctx context.Context, page browser.Page) cartState {
	var st cartState
	if sel := e.profile.Confirmation.Counter; sel != "" {
		if text, err := page.TextOf(ctx, sel); err == nil {
			st.counter = strings.TrimSpace(text)
		}
	}
	for _, sel := range e.profile.Confirmation.Messages {
		if n, err := page.Count(ctx, sel); err == nil {
			st.messages += n
		}
	}
	return st
}

// confirms reports whether st differs from before in a way that only an
// add produces: a new counter value or an extra confirmation message.
func (st cartState) confirms(before cartState) bool {
	if st.counter != "" && st.counter != before.counter {
		return true
	}
	return st.messages > before.messages
}

// confirm polls the page until the cart changes or ConfirmTimeout passes.
// Only context errors are returned.
func (e *Executor) confirm(ctx context.Context, page browser.Page, before cartState) (bool, error) {
	polls := int(e.cfg.ConfirmTimeout / e.cfg.ConfirmPoll)
	if polls < 1 {
		polls = 1
	}
	for i := 0; i < polls; i++ {
		if err := e.pacer.Sleep(ctx, e.cfg.ConfirmPoll); err != nil {
			return false, err
		}
		now := e.readCart(ctx, page)
		if now.confirms(before) {
			logger.Debug("add to cart confirmed", "counter", now.counter, "messages", now.messages)
			return true, nil
		}
	}
	return false, nil
}
