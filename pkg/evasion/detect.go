package evasion

import "strings"

// DefaultPhrases are the challenge markers looked for in rendered page text.
var DefaultPhrases = []string{
	"captcha",
	"robot check",
	"verify you're a human",
	"enter the characters you see",
	"type the characters you see",
	"security check",
	"prove you're not a robot",
}

// Detector recognizes challenge pages by case-insensitive phrase match.
type Detector struct {
	phrases []string
}

// NewDetector builds a detector; no phrases means DefaultPhrases.
func NewDetector(phrases ...string) Detector {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	lower := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lower = append(lower, p)
		}
	}
	return Detector{phrases: lower}
}

// Detect returns the first phrase found in text.
func (d Detector) Detect(text string) (string, bool) {
	text = strings.ToLower(text)
	for _, p := range d.phrases {
		if strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}
