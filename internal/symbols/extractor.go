package symbols

import (
	"regexp"
	"sort"
	"strings"
)

// Extractor pulls candidate ticker symbols out of free-form post text.
// The returned set may be empty; callers decide how to handle that.
type Extractor interface {
	Extract(text string) []string
}

// UniverseExtractor matches cashtags, exchange-prefixed symbols, suffixed
// symbols and bare uppercase tokens, then keeps only symbols present in the
// configured tradable universe. It is the default Extractor; anything
// smarter can be plugged in behind the interface.
type UniverseExtractor struct {
	universe map[string]bool
	patterns []*regexp.Regexp
}

var (
	urlRe     = regexp.MustCompile(`https?://\S+|www\.\S+`)
	mentionRe = regexp.MustCompile(`@\w+`)
	hashtagRe = regexp.MustCompile(`#\w+`)
	junkRe    = regexp.MustCompile(`[^\w\s$:]`)
)

func NewUniverseExtractor(universe []string) *UniverseExtractor {
	set := make(map[string]bool, len(universe))
	for _, s := range universe {
		set[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return &UniverseExtractor{
		universe: set,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\$([A-Z0-9]+)`),              // $ACME
			regexp.MustCompile(`[A-Z]{2,4}:([A-Z0-9]+)`),     // NSE:ACME, NYSE:ACME
			regexp.MustCompile(`(?:^|\s)([A-Z0-9]+)-EQ\b`),   // ACME-EQ
			regexp.MustCompile(`(?:^|\s)([A-Z0-9]{2,})\b`),   // bare uppercase token
		},
	}
}

// Extract returns the deduplicated, universe-validated symbols found in
// text, in lexical order so output is stable across runs.
func (e *UniverseExtractor) Extract(text string) []string {
	cleaned := cleanText(text)

	candidates := map[string]bool{}
	for _, p := range e.patterns {
		for _, m := range p.FindAllStringSubmatch(cleaned, -1) {
			candidates[m[1]] = true
		}
	}

	var out []string
	for sym := range candidates {
		if e.universe[sym] {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// cleanText strips URLs, mentions, hashtags and punctuation that confuses
// the token patterns. '$' and ':' survive because the patterns key on them.
func cleanText(text string) string {
	text = urlRe.ReplaceAllString(text, " ")
	text = mentionRe.ReplaceAllString(text, " ")
	text = hashtagRe.ReplaceAllString(text, " ")
	text = junkRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
