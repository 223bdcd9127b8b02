package browser

import (
	"math/rand"
	"strings"
	"testing"
)

func TestRef_Selector(t *testing.T) {
	got := Ref("r12").Selector()
	if got != `[data-cp-ref="r12"]` {
		t.Errorf("Selector() = %q", got)
	}
}

func TestBox_Center(t *testing.T) {
	x, y := Box{X: 10, Y: 20, Width: 100, Height: 40}.Center()
	if x != 60 || y != 40 {
		t.Errorf("Center() = (%v, %v), want (60, 40)", x, y)
	}
}

func TestRandomUserAgent_FromPool(t *testing.T) {
	pool := []string{"ua-one", "ua-two"}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		ua := RandomUserAgent(rng, pool)
		if ua != "ua-one" && ua != "ua-two" {
			t.Fatalf("unexpected user agent %q", ua)
		}
	}
}

func TestRandomUserAgent_EmptyPoolUsesDefaults(t *testing.T) {
	ua := RandomUserAgent(rand.New(rand.NewSource(1)), nil)
	found := false
	for _, d := range DefaultUserAgents {
		if d == ua {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a default user agent, got %q", ua)
	}
}

func TestDefaultUserAgents_ChromeOnly(t *testing.T) {
	for _, ua := range DefaultUserAgents {
		if !strings.Contains(ua, "Chrome/") || strings.Contains(ua, "Firefox/") {
			t.Errorf("user agent does not match the Chrome engine: %q", ua)
		}
	}
}

func TestTagJS_EncodesArguments(t *testing.T) {
	js := tagJS(Query{Expr: `//input[@value="Add to Cart"]`, XPath: true, Within: "r3"})
	if !strings.Contains(js, `"//input[@value=\"Add to Cart\"]"`) {
		t.Errorf("expression not JSON-encoded: %s", js)
	}
	if !strings.Contains(js, `, true, "r3", "data-cp-ref")`) {
		t.Errorf("arguments missing: %s", js)
	}
}

func TestOnElementJS_WrapsBody(t *testing.T) {
	js := onElementJS("#nav-cart-count", "return {found: true};")
	if !strings.Contains(js, `("#nav-cart-count")`) {
		t.Errorf("selector not passed: %s", js)
	}
	if !strings.Contains(js, "return {found: true};") {
		t.Errorf("body missing: %s", js)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Headless {
		t.Error("expected headless by default")
	}
	if len(cfg.UserAgents) != len(DefaultUserAgents) {
		t.Errorf("expected %d user agents, got %d", len(DefaultUserAgents), len(cfg.UserAgents))
	}
	cfg.UserAgents[0] = "changed"
	if DefaultUserAgents[0] == "changed" {
		t.Error("DefaultConfig must copy the user agent pool")
	}
}
