package pacing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/cartpilot/pkg/browser/browsertest"
)

type recordingSleep struct {
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newTestPacer(seed int64) (*Pacer, *recordingSleep) {
	rec := &recordingSleep{}
	return New(rand.New(rand.NewSource(seed)), rec.sleep), rec
}

// --- Range Tests ---

func TestPick_WithinBounds(t *testing.T) {
	p, _ := newTestPacer(1)
	r := Between(2*time.Second, 4*time.Second)
	for i := 0; i < 200; i++ {
		d := p.Pick(r)
		if d < r.Min || d > r.Max {
			t.Fatalf("Pick() = %v, outside [%v, %v]", d, r.Min, r.Max)
		}
	}
}

func TestPick_FixedRange(t *testing.T) {
	p, _ := newTestPacer(1)
	if d := p.Pick(Fixed(time.Second)); d != time.Second {
		t.Errorf("Pick(Fixed(1s)) = %v", d)
	}
}

func TestPick_InvertedRangeUsesMin(t *testing.T) {
	p, _ := newTestPacer(1)
	if d := p.Pick(Range{Min: 3 * time.Second, Max: time.Second}); d != 3*time.Second {
		t.Errorf("Pick() = %v, want min", d)
	}
}

func TestWait_UsesSleepFunc(t *testing.T) {
	p, rec := newTestPacer(1)
	if err := p.Wait(context.Background(), Fixed(250*time.Millisecond)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(rec.waits) != 1 || rec.waits[0] != 250*time.Millisecond {
		t.Errorf("waits = %v", rec.waits)
	}
}

func TestSleep_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly")
	}
}

func TestPerm_IsPermutation(t *testing.T) {
	p, _ := newTestPacer(7)
	perm := p.Perm(5)
	seen := map[int]bool{}
	for _, v := range perm {
		if v < 0 || v >= 5 || seen[v] {
			t.Fatalf("not a permutation: %v", perm)
		}
		seen[v] = true
	}
}

func TestChoose(t *testing.T) {
	p, _ := newTestPacer(3)
	if got := p.Choose(nil); got != "" {
		t.Errorf("Choose(nil) = %q", got)
	}
	if got := p.Choose([]string{"only"}); got != "only" {
		t.Errorf("Choose() = %q", got)
	}
}

// --- Input Tests ---

func TestTypeText_OneKeyPerCharacter(t *testing.T) {
	page := browsertest.NewPage(nil)
	page.SetHTML(`<html><body><input id="q"></body></html>`)
	p, rec := newTestPacer(1)

	err := p.TypeText(context.Background(), page, "#q", "mouse", Between(100*time.Millisecond, 300*time.Millisecond))
	if err != nil {
		t.Fatalf("TypeText() error = %v", err)
	}
	if n := page.CallCount("SendKeys #q "); n != 5 {
		t.Errorf("SendKeys calls = %d, want 5", n)
	}
	if len(rec.waits) != 5 {
		t.Fatalf("waits = %d, want 5", len(rec.waits))
	}
	for _, w := range rec.waits {
		if w < 100*time.Millisecond || w > 300*time.Millisecond {
			t.Errorf("per-key delay %v out of range", w)
		}
	}
}

func TestMoveTo_EndsInsideElement(t *testing.T) {
	page := browsertest.NewPage(nil)
	page.SetHTML(`<html><body><button id="b">Add</button></body></html>`)
	p, _ := newTestPacer(5)

	if err := p.MoveTo(context.Background(), page, "#b", Fixed(0)); err != nil {
		t.Fatalf("MoveTo() error = %v", err)
	}
	var last string
	for _, c := range page.Calls() {
		if strings.HasPrefix(c, "MoveMouse ") {
			last = c
		}
	}
	if last == "" {
		t.Fatal("expected pointer moves")
	}
	// browsertest boxes sit at (100,200) with size 80x30.
	var x, y float64
	if _, err := fmt.Sscan(strings.TrimPrefix(last, "MoveMouse "), &x, &y); err != nil {
		t.Fatalf("parsing %q: %v", last, err)
	}
	if x < 100 || x > 180 || y < 200 || y > 230 {
		t.Errorf("final pointer (%v, %v) outside element box", x, y)
	}
}

func TestMoveTo_MissingElement(t *testing.T) {
	page := browsertest.NewPage(nil)
	p, _ := newTestPacer(5)
	if err := p.MoveTo(context.Background(), page, "#missing", Fixed(0)); err == nil {
		t.Error("expected error for missing element")
	}
}

func TestScrollStep_Advances(t *testing.T) {
	page := browsertest.NewPage(nil)
	p, _ := newTestPacer(11)

	pos, err := p.ScrollStep(context.Background(), page, 0, 600, 900, Fixed(0))
	if err != nil {
		t.Fatalf("ScrollStep() error = %v", err)
	}
	if pos < 600 || pos > 900 {
		t.Errorf("position = %d, want within [600, 900]", pos)
	}
}
