package extract

import (
	"errors"
	"fmt"
)

// ErrEmptyTerm is returned for a blank search term.
var ErrEmptyTerm = errors.New("search term is empty")

// Stage names where a search failed.
type Stage string

const (
	StageInput   Stage = "input"
	StageSession Stage = "session"
	StageSearch  Stage = "search"
	StageEvasion Stage = "evasion"
	StageCollect Stage = "collect"
)

// SearchError reports a failed search. The session has already been released
// when it is returned.
type SearchError struct {
	Stage Stage
	Term  string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q failed during %s: %v", e.Term, e.Stage, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
