package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned while another caller is creating the session.
	ErrNotReady = errors.New("session is being created")

	// ErrNoActiveSession is returned by Current when nothing usable exists.
	ErrNoActiveSession = errors.New("no active session")

	// ErrReleased is returned to a creator whose session was released
	// before creation finished.
	ErrReleased = errors.New("session released during creation")
)

// Error reports a failure to create or keep a browser session.
type Error struct {
	Op  string // "create", "probe"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
