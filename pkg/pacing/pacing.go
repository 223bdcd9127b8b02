// Package pacing produces the randomized delays and human-like input used to
// drive the browser.
package pacing

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jmylchreest/cartpilot/pkg/browser"
)

// Range is a closed interval a delay is drawn from uniformly.
type Range struct {
	Min time.Duration `mapstructure:"min" yaml:"min" validate:"gte=0"`
	Max time.Duration `mapstructure:"max" yaml:"max" validate:"gtefield=Min"`
}

// Between is shorthand for Range{Min: min, Max: max}.
func Between(min, max time.Duration) Range {
	return Range{Min: min, Max: max}
}

// Fixed returns a degenerate range that always yields d.
func Fixed(d time.Duration) Range {
	return Range{Min: d, Max: d}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep returns immediately. Useful in tests.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Pacer draws delays from ranges and performs human-like input. It is safe
// for concurrent use.
type Pacer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep SleepFunc
}

// New returns a Pacer. A nil rng is seeded from the clock and a nil sleep
// uses the real clock.
func New(rng *rand.Rand, sleep SleepFunc) *Pacer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Pacer{rng: rng, sleep: sleep}
}

// Pick returns a duration from r.
func (p *Pacer) Pick(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.Min + time.Duration(p.rng.Int63n(int64(r.Max-r.Min)+1))
}

// Wait sleeps for a duration drawn from r.
func (p *Pacer) Wait(ctx context.Context, r Range) error {
	return p.sleep(ctx, p.Pick(r))
}

// Sleep sleeps for exactly d.
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) error {
	return p.sleep(ctx, d)
}

// Intn returns a value in [0, n).
func (p *Pacer) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

// IntBetween returns a value in [min, max].
func (p *Pacer) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + p.Intn(max-min+1)
}

// Chance reports true with probability prob.
func (p *Pacer) Chance(prob float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < prob
}

// Perm returns a random permutation of [0, n).
func (p *Pacer) Perm(n int) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Perm(n)
}

// Choose returns a random element of pool, or "" when it is empty.
func (p *Pacer) Choose(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[p.Intn(len(pool))]
}

// TypeText sends text one character at a time with a per-character delay
// drawn from perKey.
func (p *Pacer) TypeText(ctx context.Context, page browser.Page, sel, text string, perKey Range) error {
	for _, r := range text {
		if err := page.SendKeys(ctx, sel, string(r)); err != nil {
			return err
		}
		if err := p.Wait(ctx, perKey); err != nil {
			return err
		}
	}
	return nil
}

// MoveTo moves the pointer to a jittered point inside the element along a
// short eased path, then pauses.
func (p *Pacer) MoveTo(ctx context.Context, page browser.Page, sel string, pause Range) error {
	box, err := page.Box(ctx, sel)
	if err != nil {
		return err
	}
	tx, ty := box.Center()
	tx += (p.float() - 0.5) * box.Width * 0.4
	ty += (p.float() - 0.5) * box.Height * 0.4

	sx, sy := tx-float64(p.IntBetween(80, 240)), ty-float64(p.IntBetween(40, 160))
	steps := p.IntBetween(6, 12)
	for i := 1; i <= steps; i++ {
		t := easeInOut(float64(i) / float64(steps))
		x := sx + (tx-sx)*t
		y := sy + (ty-sy)*t
		if err := page.MoveMouse(ctx, math.Round(x), math.Round(y)); err != nil {
			return err
		}
		if err := p.sleep(ctx, time.Duration(p.IntBetween(8, 25))*time.Millisecond); err != nil {
			return err
		}
	}
	return p.Wait(ctx, pause)
}

// ScrollStep scrolls from position by minPx..maxPx pixels, occasionally
// scrolling back a little first, waits settle and returns the new position.
func (p *Pacer) ScrollStep(ctx context.Context, page browser.Page, position int64, minPx, maxPx int, settle Range) (int64, error) {
	if position > 0 && p.Chance(0.2) {
		back := position - int64(p.IntBetween(50, 150))
		if back < 0 {
			back = 0
		}
		if err := page.ScrollTo(ctx, back); err != nil {
			return position, err
		}
		if err := p.sleep(ctx, time.Duration(p.IntBetween(100, 300))*time.Millisecond); err != nil {
			return position, err
		}
	}
	next := position + int64(p.IntBetween(minPx, maxPx))
	if err := page.ScrollTo(ctx, next); err != nil {
		return position, err
	}
	return next, p.Wait(ctx, settle)
}

func (p *Pacer) float() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

func easeInOut(t float64) float64 {
	return t * t * (3 - 2*t)
}
