package extract

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var countPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(?:([KkMmBb])\b)?`)

// NormalizeCount turns an abbreviated count into an integer:
// "12.3K" is 12300, "1.2M" is 1200000 and "(4,502)" is 4502.
// The first number in s is used.
func NormalizeCount(s string) (int, error) {
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("no count in %q", s)
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing count %q: %w", s, err)
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		n *= 1e3
	case "M":
		n *= 1e6
	case "B":
		n *= 1e9
	}
	n = math.Round(n)
	// float64(math.MaxInt) rounds up to 2^63, which int cannot hold.
	if n >= float64(math.MaxInt) {
		return 0, fmt.Errorf("count %q out of range", s)
	}
	return int(n), nil
}
