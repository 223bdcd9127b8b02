package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/locator"
	"github.com/jmylchreest/cartpilot/pkg/site"
)

// Sentinels for fields that could not be read.
const (
	NoRating  = "No rating"
	NoReviews = "No reviews"
)

// Record is one product listing.
type Record struct {
	Title       string `json:"title" yaml:"title"`
	Price       string `json:"price" yaml:"price"`
	Rating      string `json:"rating" yaml:"rating"`
	Reviews     string `json:"reviews" yaml:"reviews"`
	ReviewCount int    `json:"review_count" yaml:"review_count"`
	Sponsored   bool   `json:"sponsored" yaml:"sponsored"`
	ASIN        string `json:"asin,omitempty" yaml:"asin,omitempty"`
	Rank        *int   `json:"rank,omitempty" yaml:"rank,omitempty"`
	Link        string `json:"link,omitempty" yaml:"link,omitempty"`
	Page        int    `json:"page" yaml:"page"`
}

// ParseEntries extracts every valid record from a DOM snapshot in document
// order. Entries without a title or a price are skipped. Page is left zero.
func ParseEntries(doc *goquery.Document, profile *site.Profile) []Record {
	ctx := context.Background()
	finder := locator.InDocument(doc)

	entries, err := locator.ResolveAll[*goquery.Selection](ctx, profile.ResultEntry, finder)
	if err != nil {
		logger.Debug("no result entries in snapshot", "error", err)
		return nil
	}

	p := parser{profile: profile, keywords: keywordPattern(profile.SponsoredKeywords)}
	records := make([]Record, 0, len(entries.Elements))
	for i, entry := range entries.Elements {
		rec, ok := p.parse(ctx, finder.At(entry), entry)
		if !ok {
			logger.Debug("skipping entry", "index", i)
			continue
		}
		records = append(records, rec)
	}
	return records
}

type parser struct {
	profile  *site.Profile
	keywords *regexp.Regexp
}

func (p parser) parse(ctx context.Context, f locator.DocumentFinder, entry *goquery.Selection) (Record, bool) {
	title, ok := readField(ctx, f, p.profile.Title)
	if !ok || strings.TrimSpace(title) == "" {
		return Record{}, false
	}
	price, ok := readField(ctx, f, p.profile.Price)
	if !ok {
		return Record{}, false
	}

	rec := Record{Title: title, Price: price, Rating: NoRating, Reviews: NoReviews}
	if v, ok := readField(ctx, f, p.profile.Rating); ok {
		rec.Rating = v
	}
	if v, ok := readField(ctx, f, p.profile.Reviews); ok {
		rec.Reviews = v
		if n, err := NormalizeCount(v); err == nil {
			rec.ReviewCount = n
		}
	}
	if v, ok := readField(ctx, f, p.profile.ASIN); ok {
		rec.ASIN = v
	}
	if v, ok := readField(ctx, f, p.profile.Rank); ok {
		if n, err := strconv.Atoi(v); err == nil {
			rec.Rank = &n
		}
	}
	if v, ok := readField(ctx, f, p.profile.Link); ok {
		rec.Link = p.profile.Resolve(v)
	}
	rec.Sponsored = p.sponsored(ctx, f, entry)
	return rec, true
}

// sponsored is a best-effort heuristic: a sponsor label, a marker in the
// component type or class, or a keyword anywhere in the entry markup.
func (p parser) sponsored(ctx context.Context, f locator.DocumentFinder, entry *goquery.Selection) bool {
	if _, _, err := locator.Resolve[*goquery.Selection](ctx, p.profile.SponsorLabel, f); err == nil {
		return true
	}
	kind := strings.ToLower(entry.AttrOr("data-component-type", ""))
	class := strings.ToLower(entry.AttrOr("class", ""))
	for _, m := range p.profile.SponsoredMarkers {
		m = strings.ToLower(m)
		if m != "" && (strings.Contains(kind, m) || strings.Contains(class, m)) {
			return true
		}
	}
	if p.keywords == nil {
		return false
	}
	markup, err := goquery.OuterHtml(entry)
	return err == nil && p.keywords.MatchString(markup)
}

func readField(ctx context.Context, f locator.DocumentFinder, field site.Field) (string, bool) {
	if len(field.Strategies) == 0 {
		return "", false
	}
	el, _, err := locator.Resolve[*goquery.Selection](ctx, field.Spec, f)
	if err != nil {
		return "", false
	}
	raw := el.Text()
	if field.Attr != "" {
		raw = el.AttrOr(field.Attr, "")
	}
	v := field.Clean(raw)
	return v, v != ""
}

func keywordPattern(words []string) *regexp.Regexp {
	var quoted []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// collector accumulates records across snapshots, keeping the first record
// seen for each title.
type collector struct {
	seen    map[string]struct{}
	records []Record
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

// add appends unseen records and reports how many were new.
func (c *collector) add(records []Record, page int) int {
	added := 0
	for _, r := range records {
		if _, dup := c.seen[r.Title]; dup {
			continue
		}
		c.seen[r.Title] = struct{}{}
		r.Page = page
		c.records = append(c.records, r)
		added++
	}
	return added
}
