package extract

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/goleak"

	"github.com/jmylchreest/cartpilot/pkg/browser"
	"github.com/jmylchreest/cartpilot/pkg/browser/browsertest"
	"github.com/jmylchreest/cartpilot/pkg/evasion"
	"github.com/jmylchreest/cartpilot/pkg/locator"
	"github.com/jmylchreest/cartpilot/pkg/pacing"
	"github.com/jmylchreest/cartpilot/pkg/session"
	"github.com/jmylchreest/cartpilot/pkg/site"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const baseURL = "https://www.amazon.com"

func readTestdata(t *testing.T, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", filename))
	if err != nil {
		t.Fatalf("failed to read testdata/%s: %v", filename, err)
	}
	return string(data)
}

func loadDoc(t *testing.T, filename string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(readTestdata(t, filename)))
	if err != nil {
		t.Fatalf("parsing %s: %v", filename, err)
	}
	return doc
}

// searchPage serves the home page and switches to results when Enter is
// pressed in the search box.
func searchPage(t *testing.T, results string) *browsertest.Page {
	t.Helper()
	page := browsertest.NewPage(map[string]string{
		baseURL: readTestdata(t, "home.html"),
	})
	page.OnKeys = func(p *browsertest.Page, _ *goquery.Selection, keys string) error {
		if keys == browser.KeyEnter {
			p.SetHTML(results)
		}
		return nil
	}
	return page
}

type testEnv struct {
	pipeline *Pipeline
	manager  *session.Manager
	launcher *browsertest.Launcher
}

func newTestEnv(t *testing.T, page *browsertest.Page, cfg Config) *testEnv {
	t.Helper()
	l := &browsertest.Launcher{NewPage: func() *browsertest.Page { return page }}
	m := session.NewManager(l)
	t.Cleanup(func() { _ = m.Close() })

	p := pacing.New(rand.New(rand.NewSource(7)), pacing.NoSleep)
	ecfg := evasion.DefaultConfig()
	ecfg.MaxAttempts = 1
	ecfg.Screenshots = false
	guard := evasion.New(baseURL, p, ecfg)

	return &testEnv{
		pipeline: New(m, guard, site.Amazon(), p, cfg),
		manager:  m,
		launcher: l,
	}
}

// --- NormalizeCount Tests ---

func TestNormalizeCount(t *testing.T) {
	tests := map[string]int{
		"12.3K":       12300,
		"1.2M":        1200000,
		"4,502":       4502,
		"(842)":       842,
		"2k ratings":  2000,
		"1,234,567":   1234567,
		"3.4B":        3400000000,
		"15 reviews":  15,
		"  7  ":       7,
		"0.5K people": 500,
		"15 bought":   15,
	}
	for in, want := range tests {
		got, err := NormalizeCount(in)
		if err != nil {
			t.Errorf("NormalizeCount(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizeCount(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestNormalizeCount_NoNumber(t *testing.T) {
	if _, err := NormalizeCount("No reviews"); err == nil {
		t.Error("expected error for text without a number")
	}
}

func TestNormalizeCount_OutOfRange(t *testing.T) {
	for _, in := range []string{"99999999999999999999", "9,999,999,999B", "12345678901234.5M"} {
		if got, err := NormalizeCount(in); err == nil {
			t.Errorf("NormalizeCount(%q) = %d, want out of range error", in, got)
		}
	}
}

// --- ParseEntries Tests ---

func TestParseEntries_PriceRequired(t *testing.T) {
	records := ParseEntries(loadDoc(t, "wireless_mouse.html"), site.Amazon())
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	for _, r := range records {
		if r.Price == "" {
			t.Errorf("record %q has no price", r.Title)
		}
		if r.Title == "Generic Optical Mouse" {
			t.Error("entry without a price must be dropped")
		}
	}
}

func TestParseEntries_Fields(t *testing.T) {
	records := ParseEntries(loadDoc(t, "wireless_mouse.html"), site.Amazon())
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	first := records[0]
	if first.Title != "Logitech M185 Wireless Mouse" || first.Price != "$14.99" {
		t.Errorf("first = %q %q", first.Title, first.Price)
	}
	if first.Rating != "4.5 out of 5 stars" {
		t.Errorf("rating = %q", first.Rating)
	}
	if first.Reviews != "12.3K" || first.ReviewCount != 12300 {
		t.Errorf("reviews = %q (%d)", first.Reviews, first.ReviewCount)
	}
	if first.ASIN != "B0MOUSE001" {
		t.Errorf("asin = %q", first.ASIN)
	}
	if first.Rank == nil || *first.Rank != 1 {
		t.Errorf("rank = %v, want 1", first.Rank)
	}
	if first.Link != baseURL+"/Logitech-M185-Wireless-Mouse/dp/B0MOUSE001" {
		t.Errorf("link = %q", first.Link)
	}
	if !first.Sponsored {
		t.Error("labelled entry should be sponsored")
	}

	second := records[1]
	if second.Sponsored {
		t.Error("plain entry should not be sponsored")
	}
	if second.Rank != nil {
		t.Errorf("rank = %d, want nil", *second.Rank)
	}
	if second.ReviewCount != 4502 {
		t.Errorf("review count = %d, want 4502", second.ReviewCount)
	}
}

func TestParseEntries_Sentinels(t *testing.T) {
	doc := loadDoc(t, "page_one.html")
	records := ParseEntries(doc, site.Amazon())
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Rating != NoRating || records[0].Reviews != NoReviews {
		t.Errorf("missing fields = %q / %q, want sentinels", records[0].Rating, records[0].Reviews)
	}
	if records[0].ReviewCount != 0 {
		t.Errorf("review count = %d, want 0", records[0].ReviewCount)
	}
	if records[1].Reviews != "(1.2M)" || records[1].ReviewCount != 1200000 {
		t.Errorf("reviews = %q (%d)", records[1].Reviews, records[1].ReviewCount)
	}
}

func TestParseEntries_SponsoredSignals(t *testing.T) {
	records := ParseEntries(loadDoc(t, "page_two.html"), site.Amazon())
	got := map[string]bool{}
	for _, r := range records {
		got[r.Title] = r.Sponsored
	}
	want := map[string]bool{
		"Compact Keyboard":  false,
		"Wireless Keyboard": true, // class marker
		"Gaming Keyboard":   true, // keyword
	}
	for title, sponsored := range want {
		if got[title] != sponsored {
			t.Errorf("%s sponsored = %v, want %v", title, got[title], sponsored)
		}
	}
}

func TestParseEntries_KeywordNeedsWordBoundary(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body>
<div data-component-type="s-search-result"><h2><a href="/dp/X"><span>Unsponsoredish Widget</span></a></h2>
<span class="a-price"><span class="a-offscreen">$1.00</span></span></div>
</body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	records := ParseEntries(doc, site.Amazon())
	if len(records) != 1 || records[0].Sponsored {
		t.Errorf("records = %+v, want one unsponsored record", records)
	}
}

func TestParseEntries_NoEntries(t *testing.T) {
	doc := loadDoc(t, "home.html")
	if records := ParseEntries(doc, site.Amazon()); len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

// --- Dedup Tests ---

func TestCollector_FirstOccurrenceWins(t *testing.T) {
	c := newCollector()
	c.add([]Record{{Title: "A", Price: "$1"}, {Title: "B", Price: "$2"}}, 1)
	added := c.add([]Record{{Title: "B", Price: "$3"}, {Title: "C", Price: "$4"}, {Title: "A", Price: "$5"}}, 2)

	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	if len(c.records) != 3 {
		t.Fatalf("records = %d, want 3", len(c.records))
	}
	if c.records[1].Price != "$2" || c.records[1].Page != 1 {
		t.Errorf("duplicate replaced the first occurrence: %+v", c.records[1])
	}
	if c.records[2].Title != "C" || c.records[2].Page != 2 {
		t.Errorf("third = %+v", c.records[2])
	}
}

// --- Pipeline Tests ---

func TestSearch_WirelessMouse(t *testing.T) {
	page := searchPage(t, readTestdata(t, "wireless_mouse.html"))
	env := newTestEnv(t, page, DefaultConfig())

	res, err := env.pipeline.Search(context.Background(), "wireless mouse")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Total != 2 || len(res.Records) != 2 {
		t.Fatalf("records = %d (total %d), want 2", len(res.Records), res.Total)
	}
	if res.Records[0].Title != "Logitech M185 Wireless Mouse" || res.Records[1].Title != "Ergonomic Vertical Mouse" {
		t.Errorf("order = %q, %q", res.Records[0].Title, res.Records[1].Title)
	}
	if res.Pages != 1 {
		t.Errorf("pages = %d, want 1", res.Pages)
	}
	if res.SessionID == "" || res.SessionID != env.manager.Snapshot().ID {
		t.Errorf("session id = %q", res.SessionID)
	}
	if res.Term != "wireless mouse" {
		t.Errorf("term = %q", res.Term)
	}
}

func TestSearch_TypesTermPerCharacter(t *testing.T) {
	page := searchPage(t, readTestdata(t, "wireless_mouse.html"))
	env := newTestEnv(t, page, DefaultConfig())

	if _, err := env.pipeline.Search(context.Background(), "mouse"); err != nil {
		t.Fatal(err)
	}
	// five characters plus Enter
	if n := page.CallCount("SendKeys"); n != 6 {
		t.Errorf("SendKeys calls = %d, want 6", n)
	}
	if page.CallCount("Navigate "+baseURL) != 1 {
		t.Errorf("calls = %v", page.Calls())
	}
}

func TestSearch_FollowsPaginationAndDedups(t *testing.T) {
	page := searchPage(t, readTestdata(t, "page_one.html"))
	two := readTestdata(t, "page_two.html")
	page.OnClick = func(p *browsertest.Page, el *goquery.Selection) error {
		if el.HasClass("s-pagination-next") {
			p.SetHTML(two)
		}
		return nil
	}
	env := newTestEnv(t, page, DefaultConfig())

	res, err := env.pipeline.Search(context.Background(), "keyboard")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Pages != 2 {
		t.Errorf("pages = %d, want 2", res.Pages)
	}
	want := []struct {
		title string
		page  int
	}{
		{"Mechanical Keyboard", 1},
		{"Compact Keyboard", 1},
		{"Wireless Keyboard", 2},
		{"Gaming Keyboard", 2},
	}
	if len(res.Records) != len(want) {
		t.Fatalf("records = %d, want %d", len(res.Records), len(want))
	}
	for i, w := range want {
		if res.Records[i].Title != w.title || res.Records[i].Page != w.page {
			t.Errorf("record %d = %q (page %d), want %q (page %d)",
				i, res.Records[i].Title, res.Records[i].Page, w.title, w.page)
		}
	}
	if res.Records[1].Price != "$39.00" {
		t.Errorf("compact keyboard price = %q, first occurrence should win", res.Records[1].Price)
	}
}

func TestSearch_MaxPages(t *testing.T) {
	page := searchPage(t, readTestdata(t, "page_one.html"))
	clicked := false
	page.OnClick = func(_ *browsertest.Page, el *goquery.Selection) error {
		if el.HasClass("s-pagination-next") {
			clicked = true
		}
		return nil
	}
	cfg := DefaultConfig()
	cfg.MaxPages = 1
	env := newTestEnv(t, page, cfg)

	res, err := env.pipeline.Search(context.Background(), "keyboard")
	if err != nil {
		t.Fatal(err)
	}
	if clicked || res.Pages != 1 || res.Total != 2 {
		t.Errorf("clicked=%v pages=%d total=%d", clicked, res.Pages, res.Total)
	}
}

func TestSearch_ScrollsUntilHeightSettles(t *testing.T) {
	page := searchPage(t, readTestdata(t, "wireless_mouse.html"))
	page.Heights = []int64{1000}
	env := newTestEnv(t, page, DefaultConfig())

	if _, err := env.pipeline.Search(context.Background(), "wireless mouse"); err != nil {
		t.Fatal(err)
	}
	// steps are 300-700px, so reaching 1000px takes two to four scrolls
	n := page.CallCount("ScrollHeight")
	if n < 3 || n > 5 {
		t.Errorf("ScrollHeight calls = %d, want 3-5", n)
	}
}

func TestSearch_NextLinkThatDoesNotNavigate(t *testing.T) {
	// Clicking next leaves page one on screen.
	page := searchPage(t, readTestdata(t, "page_one.html"))
	nextClicks := 0
	page.OnClick = func(_ *browsertest.Page, el *goquery.Selection) error {
		if el.HasClass("s-pagination-next") {
			nextClicks++
		}
		return nil
	}
	cfg := DefaultConfig()
	cfg.MaxPages = 0
	env := newTestEnv(t, page, cfg)

	res, err := env.pipeline.Search(context.Background(), "keyboard")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Pages != 1 || res.Total != 2 {
		t.Errorf("pages = %d, total = %d, want 1 and 2", res.Pages, res.Total)
	}
	if nextClicks != 1 {
		t.Errorf("next clicks = %d, want 1", nextClicks)
	}
}

func TestSearch_CollectsLazilyLoadedEntries(t *testing.T) {
	base := readTestdata(t, "wireless_mouse.html")
	lazy := strings.Replace(base,
		`<div data-component-type="s-search-result" data-asin="B0MOUSE003"`,
		`<div data-component-type="s-search-result" data-asin="B0MOUSE004">
      <h2><a href="/Trackball-Mouse/dp/B0MOUSE004"><span>Trackball Mouse</span></a></h2>
      <span class="a-price"><span class="a-offscreen">$39.99</span></span>
    </div>
    <div data-component-type="s-search-result" data-asin="B0MOUSE003"`, 1)
	if lazy == base {
		t.Fatal("fixture no longer contains the insertion point")
	}

	page := searchPage(t, base)
	page.Heights = []int64{1000, 1600, 2200, 2800}
	scrolls := 0
	page.OnScroll = func(p *browsertest.Page, _ int64) error {
		scrolls++
		if scrolls == 2 {
			p.SetHTML(lazy)
		}
		return nil
	}
	env := newTestEnv(t, page, DefaultConfig())

	res, err := env.pipeline.Search(context.Background(), "wireless mouse")
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 {
		t.Fatalf("records = %d, want the lazily loaded entry too", res.Total)
	}
	found := false
	for _, r := range res.Records {
		found = found || r.Title == "Trackball Mouse"
	}
	if !found {
		t.Error("Trackball Mouse was not collected")
	}

	if len(page.Heights) != 0 {
		t.Errorf("walk stopped with heights %v still unread", page.Heights)
	}
	var last int64
	for _, c := range page.Calls() {
		if y, ok := strings.CutPrefix(c, "ScrollTo "); ok {
			last, _ = strconv.ParseInt(y, 10, 64)
		}
	}
	if last < 2800 {
		t.Errorf("last scroll position = %d, want the settled bottom at 2800", last)
	}
}

func TestSearch_NotReadyKeepsPendingSession(t *testing.T) {
	env := newTestEnv(t, searchPage(t, readTestdata(t, "wireless_mouse.html")), DefaultConfig())
	gate := make(chan struct{})
	env.launcher.Gate = gate
	env.launcher.Started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := env.manager.Acquire(context.Background())
		done <- err
	}()
	<-env.launcher.Started

	_, err := env.pipeline.Search(context.Background(), "mouse")
	var serr *SearchError
	if !errors.As(err, &serr) || serr.Stage != StageSession || !errors.Is(err, session.ErrNotReady) {
		t.Fatalf("error = %v, want session stage wrapping ErrNotReady", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("pending Acquire() error = %v, want the session it was creating", err)
	}
	if env.launcher.Handles()[0].Closed() {
		t.Error("the session being created must survive a concurrent ErrNotReady")
	}
	if got := env.manager.Snapshot().State; got != "active" {
		t.Errorf("state = %s, want active", got)
	}
}

func TestSearch_EmptyTerm(t *testing.T) {
	env := newTestEnv(t, browsertest.NewPage(nil), DefaultConfig())

	_, err := env.pipeline.Search(context.Background(), "   ")
	var serr *SearchError
	if !errors.As(err, &serr) || serr.Stage != StageInput || !errors.Is(err, ErrEmptyTerm) {
		t.Fatalf("error = %v", err)
	}
	if env.launcher.Calls() != 0 {
		t.Error("no browser should launch for an empty term")
	}
}

func TestSearch_NoSearchBoxReleasesSession(t *testing.T) {
	page := browsertest.NewPage(map[string]string{baseURL: "<html><body><p>maintenance</p></body></html>"})
	env := newTestEnv(t, page, DefaultConfig())

	_, err := env.pipeline.Search(context.Background(), "mouse")
	var serr *SearchError
	if !errors.As(err, &serr) || serr.Stage != StageSearch {
		t.Fatalf("error = %v, want search stage", err)
	}
	if !errors.Is(err, locator.ErrNotFound) {
		t.Error("locator failure should be wrapped")
	}
	if n := page.CallCount("Navigate"); n != 3 {
		t.Errorf("navigations = %d, want 3 attempts", n)
	}
	if n := page.CallCount("Reload"); n != 2 {
		t.Errorf("reloads = %d, want 2", n)
	}
	if !env.launcher.Handles()[0].Closed() {
		t.Error("session should be released after a failed search")
	}
	if got := env.manager.Snapshot().State; got != "uninitialized" {
		t.Errorf("state = %s", got)
	}
}

func TestSearch_ChallengeExhausted(t *testing.T) {
	page := browsertest.NewPage(nil)
	page.Fallback = `<html><body><h4>Type the characters you see in this image</h4></body></html>`
	env := newTestEnv(t, page, DefaultConfig())

	_, err := env.pipeline.Search(context.Background(), "mouse")
	var serr *SearchError
	if !errors.As(err, &serr) || serr.Stage != StageEvasion {
		t.Fatalf("error = %v, want evasion stage", err)
	}
	var ex *evasion.ExhaustedError
	if !errors.As(err, &ex) {
		t.Error("ExhaustedError should be wrapped")
	}
	if n := page.CallCount("Navigate " + baseURL); n < 1 {
		t.Error("expected the home page to be opened")
	}
	if !env.launcher.Handles()[0].Closed() {
		t.Error("session should be released")
	}
}

func TestSearch_LaunchFailure(t *testing.T) {
	l := &browsertest.Launcher{Err: errors.New("chrome not found")}
	m := session.NewManager(l)
	defer m.Close()
	p := pacing.New(rand.New(rand.NewSource(1)), pacing.NoSleep)
	pl := New(m, evasion.New(baseURL, p, evasion.DefaultConfig()), site.Amazon(), p, DefaultConfig())

	_, err := pl.Search(context.Background(), "mouse")
	var serr *SearchError
	if !errors.As(err, &serr) || serr.Stage != StageSession {
		t.Fatalf("error = %v, want session stage", err)
	}
	var sessErr *session.Error
	if !errors.As(err, &sessErr) {
		t.Error("session error should be wrapped")
	}
}

func TestSearch_ReusesSession(t *testing.T) {
	page := searchPage(t, readTestdata(t, "wireless_mouse.html"))
	env := newTestEnv(t, page, DefaultConfig())

	first, err := env.pipeline.Search(context.Background(), "wireless mouse")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.pipeline.Search(context.Background(), "wireless mouse")
	if err != nil {
		t.Fatal(err)
	}
	if first.SessionID != second.SessionID || env.launcher.Calls() != 1 {
		t.Errorf("sessions %s / %s, launches %d", first.SessionID, second.SessionID, env.launcher.Calls())
	}
}
