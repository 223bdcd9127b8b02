// Package output renders command results as envelopes in json, jsonl, yaml
// or a markdown summary.
package output

import (
	"fmt"
	"io"
)

// Format represents output format types.
type Format string

const (
	FormatJSON     Format = "json"
	FormatJSONL    Format = "jsonl"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formats lists every supported format, for flag help.
var Formats = []Format{FormatMarkdown, FormatJSON, FormatJSONL, FormatYAML}

// Writer serializes envelopes.
type Writer interface {
	// Write outputs one envelope. Buffered formats emit on Close.
	Write(env Envelope) error

	// Close flushes anything buffered.
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	pretty bool
	indent string
	limit  int
}

// WithPretty enables pretty-printing of JSON.
func WithPretty(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.pretty = enabled
	}
}

// WithIndent sets the JSON indentation string.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// WithLimit caps the products listed by the markdown summary. Zero lists all.
func WithLimit(n int) WriterOption {
	return func(c *writerConfig) {
		c.limit = n
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{
		pretty: true,
		indent: "  ",
		limit:  DefaultSummaryLimit,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatJSON:
		return NewJSONWriter(w, cfg.pretty, cfg.indent), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	case FormatMarkdown, "md":
		return NewMarkdownWriter(w, cfg.limit), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
