package browsertest

import (
	"context"
	"errors"
	"sync"

	"github.com/jmylchreest/cartpilot/pkg/browser"
)

// ErrClosed is returned by Ping after Close.
var ErrClosed = errors.New("browser closed")

// Handle is a fake browser.Handle around a Page.
type Handle struct {
	page *Page

	mu      sync.Mutex
	pingErr error
	closed  bool
}

var _ browser.Handle = (*Handle)(nil)

// NewHandle wraps page.
func NewHandle(page *Page) *Handle {
	return &Handle{page: page}
}

func (h *Handle) Page() browser.Page { return h.page }

// FakePage returns the underlying fake for assertions.
func (h *Handle) FakePage() *Page { return h.page }

// SetPingError makes subsequent probes fail with err.
func (h *Handle) SetPingError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pingErr = err
}

func (h *Handle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.pingErr != nil {
		return h.pingErr
	}
	return ctx.Err()
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Launcher is a fake browser.Launcher.
type Launcher struct {
	// NewPage builds the page for each launch. Nil yields an empty page.
	NewPage func() *Page
	// Err, when set, fails every launch.
	Err error
	// Gate, when set, blocks Launch until it is closed or receives.
	Gate chan struct{}
	// Started receives one value per launch attempt, if set and not full.
	Started chan struct{}

	mu      sync.Mutex
	handles []*Handle
	calls   int
}

var _ browser.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context) (browser.Handle, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()

	if l.Started != nil {
		select {
		case l.Started <- struct{}{}:
		default:
		}
	}
	if l.Gate != nil {
		select {
		case <-l.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.Err != nil {
		return nil, l.Err
	}

	page := NewPage(nil)
	if l.NewPage != nil {
		page = l.NewPage()
	}
	h := NewHandle(page)

	l.mu.Lock()
	l.handles = append(l.handles, h)
	l.mu.Unlock()
	return h, nil
}

// Calls reports how many times Launch was invoked.
func (l *Launcher) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Handles returns every handle launched so far, oldest first.
func (l *Launcher) Handles() []*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Handle(nil), l.handles...)
}
