// Package locator resolves elements through ordered fallback chains of CSS and
// XPath strategies.
//
// A Spec names a target ("title", "add-to-cart") and lists strategies in
// priority order. Resolve walks the list and stops at the first strategy that
// matches; a strategy that errors or matches nothing simply hands over to the
// next one.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/cartpilot/internal/logger"
)

// ErrNotFound is returned when no strategy of a Spec matches.
var ErrNotFound = errors.New("element not found")

// Kind selects the query language of a strategy.
type Kind int

const (
	CSS Kind = iota
	XPath
)

func (k Kind) String() string {
	if k == XPath {
		return "xpath"
	}
	return "css"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "css":
		*k = CSS
	case "xpath":
		*k = XPath
	default:
		return fmt.Errorf("unknown selector kind %q", string(b))
	}
	return nil
}

// Scope says whether a strategy is evaluated against the whole document or
// relative to a root element (a result entry, say).
type Scope int

const (
	Document Scope = iota
	Element
)

func (s Scope) String() string {
	if s == Element {
		return "element"
	}
	return "document"
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "document":
		*s = Document
	case "element":
		*s = Element
	default:
		return fmt.Errorf("unknown scope %q", string(b))
	}
	return nil
}

// Strategy is one way of finding an element.
type Strategy struct {
	Kind  Kind   `yaml:"kind" json:"kind"`
	Expr  string `yaml:"expr" json:"expr" validate:"required"`
	Scope Scope  `yaml:"scope" json:"scope"`
}

func (s Strategy) String() string {
	return s.Kind.String() + "(" + s.Expr + ")"
}

// ByCSS returns a document-scoped CSS strategy.
func ByCSS(expr string) Strategy { return Strategy{Kind: CSS, Expr: expr} }

// ByXPath returns a document-scoped XPath strategy.
func ByXPath(expr string) Strategy { return Strategy{Kind: XPath, Expr: expr} }

// Within returns a copy of s evaluated relative to the root element.
func (s Strategy) Within() Strategy {
	s.Scope = Element
	return s
}

// Spec is an ordered fallback chain for one target.
type Spec struct {
	Target     string     `yaml:"target" json:"target"`
	Strategies []Strategy `yaml:"strategies" json:"strategies" validate:"required,min=1,dive"`
}

// NewSpec builds a Spec.
func NewSpec(target string, strategies ...Strategy) Spec {
	return Spec{Target: target, Strategies: strategies}
}

// Bind returns a copy of the spec with every "{name}" placeholder replaced
// by value.
func (s Spec) Bind(name, value string) Spec {
	placeholder := "{" + name + "}"
	out := Spec{Target: s.Target, Strategies: make([]Strategy, len(s.Strategies))}
	for i, st := range s.Strategies {
		st.Expr = strings.ReplaceAll(st.Expr, placeholder, value)
		out.Strategies[i] = st
	}
	return out
}

// NotFoundError reports an exhausted fallback chain.
type NotFoundError struct {
	Target string
	Tried  int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s (tried %d strategies)", ErrNotFound, e.Target, e.Tried)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Finder evaluates a single strategy. Implementations return an empty slice
// (not an error) when nothing matches.
type Finder[E any] interface {
	FindAll(ctx context.Context, s Strategy) ([]E, error)
}

// Match is the outcome of a successful resolution.
type Match[E any] struct {
	Elements []E
	Strategy Strategy
	// Index is the position of Strategy within the spec, for diagnostics.
	Index int
}

// First returns the first matched element.
func (m Match[E]) First() E {
	return m.Elements[0]
}

// Resolve returns the first element found by the first matching strategy.
func Resolve[E any](ctx context.Context, spec Spec, f Finder[E]) (E, Match[E], error) {
	m, err := ResolveAll(ctx, spec, f)
	if err != nil {
		var zero E
		return zero, m, err
	}
	return m.First(), m, nil
}

// ResolveAll returns every element matched by the first strategy that
// matches anything. Later strategies are never evaluated.
func ResolveAll[E any](ctx context.Context, spec Spec, f Finder[E]) (Match[E], error) {
	for i, s := range spec.Strategies {
		if err := ctx.Err(); err != nil {
			return Match[E]{}, err
		}
		found, err := f.FindAll(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return Match[E]{}, ctx.Err()
			}
			logger.Debug("locator strategy failed", "target", spec.Target, "strategy", s.String(), "error", err)
			continue
		}
		if len(found) == 0 {
			continue
		}
		if i > 0 {
			logger.Debug("locator resolved by fallback", "target", spec.Target, "index", i, "strategy", s.String())
		}
		return Match[E]{Elements: found, Strategy: s, Index: i}, nil
	}
	return Match[E]{}, &NotFoundError{Target: spec.Target, Tried: len(spec.Strategies)}
}
