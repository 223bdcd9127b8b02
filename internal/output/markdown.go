package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/extract"
)

// DefaultSummaryLimit is how many products the markdown summary lists. The
// structured formats always carry every product.
const DefaultSummaryLimit = 10

// MarkdownWriter renders envelopes as a human-readable summary.
type MarkdownWriter struct {
	w     *bufio.Writer
	limit int
}

// NewMarkdownWriter creates a markdown writer listing at most limit products
// per search. Zero lists all.
func NewMarkdownWriter(w io.Writer, limit int) *MarkdownWriter {
	return &MarkdownWriter{w: bufio.NewWriter(w), limit: limit}
}

func (w *MarkdownWriter) Write(env Envelope) error {
	switch {
	case env.Status == StatusError:
		fmt.Fprintf(w.w, "**Error:** %s\n\n", env.Message)
	case env.Products != nil:
		w.writeProducts(env)
	case env.Actions != nil:
		w.writeActions(env)
	default:
		fmt.Fprintf(w.w, "%s\n\n", env.Message)
	}
	return w.w.Flush()
}

func (w *MarkdownWriter) writeProducts(env Envelope) {
	fmt.Fprint(w.w, "## Search Results\n\n")

	shown := env.Products
	if w.limit > 0 && len(shown) > w.limit {
		shown = shown[:w.limit]
	}
	for i, r := range shown {
		fmt.Fprintf(w.w, "%d. **%s**\n", i+1, r.Title)
		fmt.Fprintf(w.w, "   - Price: %s\n", r.Price)
		fmt.Fprintf(w.w, "   - Rating: %s\n", r.Rating)
		fmt.Fprintf(w.w, "   - Reviews: %s\n", reviews(r))
		fmt.Fprintf(w.w, "   - Sponsored: %s\n", yesNo(r.Sponsored))
		if r.ASIN != "" {
			fmt.Fprintf(w.w, "   - ID: %s\n", r.ASIN)
		}
		fmt.Fprintln(w.w)
	}

	if len(shown) < len(env.Products) {
		fmt.Fprintf(w.w, "_Showing %d of %s products._\n\n", len(shown), humanize.Comma(int64(len(env.Products))))
	}
	fmt.Fprintf(w.w, "Total products found: %s\n\n", humanize.Comma(int64(env.Count)))
}

func (w *MarkdownWriter) writeActions(env Envelope) {
	fmt.Fprint(w.w, "## Cart Results\n\n")
	for i, a := range env.Actions {
		name := a.Title
		if name == "" {
			name = a.Identifier
		}
		fmt.Fprintf(w.w, "%d. **%s**: %s\n", i+1, name, a.Outcome)
	}
	fmt.Fprintf(w.w, "\n%s\n\n", env.Message)
}

func (w *MarkdownWriter) Close() error {
	return w.w.Flush()
}

func reviews(r extract.Record) string {
	if r.ReviewCount > 0 {
		return humanize.Comma(int64(r.ReviewCount))
	}
	return r.Reviews
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// SummaryFileName is the name a search summary is saved under.
func SummaryFileName(at time.Time) string {
	return fmt.Sprintf("search_results_%s.md", at.Format("20060102_150405"))
}

// SaveSummary writes the markdown summary of env to a timestamped file in
// dir and returns its path.
func SaveSummary(dir string, env Envelope, at time.Time, limit int) (string, error) {
	path := filepath.Join(dir, SummaryFileName(at))
	f, err := os.Create(path) //#nosec G304 -- dir is user-specified output location
	if err != nil {
		return "", fmt.Errorf("creating summary file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := NewMarkdownWriter(f, limit)
	if err := w.Write(env); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	logger.Info("search summary saved", "path", path, "products", env.Count)
	return path, nil
}
