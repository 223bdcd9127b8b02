// Package site describes a listings site as a set of locator fallback chains.
//
// The built-in Amazon profile can be overlaid from YAML so selectors can be
// adjusted without a rebuild when the markup drifts.
package site

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/cartpilot/pkg/locator"
)

// IdentifierPattern is what a product identifier may look like before it is
// bound into a locator expression.
var IdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Field is a locator chain for one value plus how to read it.
type Field struct {
	locator.Spec `yaml:",inline"`
	// Attr reads an attribute instead of the element text.
	Attr string `yaml:"attr,omitempty"`
	// Pattern, if set, keeps only its first capture group (or whole match).
	Pattern string `yaml:"pattern,omitempty"`
}

// Clean applies Pattern to a raw value and trims whitespace.
func (f Field) Clean(raw string) string {
	raw = strings.Join(strings.Fields(raw), " ")
	if f.Pattern == "" || raw == "" {
		return raw
	}
	re, err := regexp.Compile(f.Pattern)
	if err != nil {
		return raw
	}
	m := re.FindStringSubmatch(raw)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	default:
		return m[0]
	}
}

// Confirmation describes the signals that an add-to-cart succeeded.
type Confirmation struct {
	// Counter is the cart badge whose text changes after an add.
	Counter string `yaml:"counter"`
	// Messages are elements that appear only after an add.
	Messages []string `yaml:"messages"`
}

// Profile is everything cartpilot needs to know about a site's markup.
type Profile struct {
	Name       string `yaml:"name" validate:"required"`
	BaseURL    string `yaml:"base_url" validate:"required,url"`
	SearchPath string `yaml:"search_path" validate:"required"`

	SearchBox   locator.Spec `yaml:"search_box"`
	ResultEntry locator.Spec `yaml:"result_entry"`
	NextPage    locator.Spec `yaml:"next_page"`

	Title   Field `yaml:"title"`
	Price   Field `yaml:"price"`
	Rating  Field `yaml:"rating"`
	Reviews Field `yaml:"reviews"`
	ASIN    Field `yaml:"asin"`
	Rank    Field `yaml:"rank"`
	Link    Field `yaml:"link"`

	SponsorLabel      locator.Spec `yaml:"sponsor_label"`
	SponsoredMarkers  []string     `yaml:"sponsored_markers"`
	SponsoredKeywords []string     `yaml:"sponsored_keywords"`

	// LabelledSponsored finds entries with a visible "Sponsored" label.
	LabelledSponsored locator.Spec `yaml:"labelled_sponsored"`
	// TypedSponsored finds entries by sponsored component type.
	TypedSponsored locator.Spec `yaml:"typed_sponsored"`
	// EntryByID finds one entry; "{id}" is replaced by the identifier.
	EntryByID locator.Spec `yaml:"entry_by_id"`
	AddToCart locator.Spec `yaml:"add_to_cart"`

	Confirmation Confirmation `yaml:"confirmation"`
}

// SearchURL returns the results URL for term.
func (p *Profile) SearchURL(term string) string {
	return strings.TrimRight(p.BaseURL, "/") + p.SearchPath + url.QueryEscape(term)
}

// Resolve makes href absolute against BaseURL.
func (p *Profile) Resolve(href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// Validate checks required fields and that every locator chain is usable.
func (p *Profile) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("invalid site profile: %w", err)
	}
	specs := map[string]locator.Spec{
		"search_box":         p.SearchBox,
		"result_entry":       p.ResultEntry,
		"next_page":          p.NextPage,
		"title":              p.Title.Spec,
		"price":              p.Price.Spec,
		"labelled_sponsored": p.LabelledSponsored,
		"typed_sponsored":    p.TypedSponsored,
		"entry_by_id":        p.EntryByID,
		"add_to_cart":        p.AddToCart,
	}
	for name, spec := range specs {
		if len(spec.Strategies) == 0 {
			return fmt.Errorf("invalid site profile: %s has no strategies", name)
		}
		for i, s := range spec.Strategies {
			if strings.TrimSpace(s.Expr) == "" {
				return fmt.Errorf("invalid site profile: %s strategy %d is empty", name, i)
			}
		}
	}
	for _, f := range []Field{p.Title, p.Price, p.Rating, p.Reviews, p.ASIN, p.Rank, p.Link} {
		if f.Pattern == "" {
			continue
		}
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return fmt.Errorf("invalid site profile: %s pattern: %w", f.Target, err)
		}
	}
	if !strings.Contains(strings.Join(exprs(p.EntryByID), "\n"), "{id}") {
		return fmt.Errorf("invalid site profile: entry_by_id must reference {id}")
	}
	return nil
}

func exprs(spec locator.Spec) []string {
	out := make([]string, len(spec.Strategies))
	for i, s := range spec.Strategies {
		out[i] = s.Expr
	}
	return out
}

// Load reads a YAML profile from path on top of the built-in Amazon profile.
// Keys absent from the file keep their defaults; present lists replace the
// default list entirely.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading site profile: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Profile, error) {
	p := Amazon()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing site profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
