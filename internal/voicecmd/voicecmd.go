// Package voicecmd recognises local power commands ("shut down", "restart")
// in typed or transcribed user input so they can be handled on the client
// instead of being forwarded to the backend.
//
// Recognition runs in two passes:
//
//  1. An anchored regex table matches well-formed phrasings, optionally
//     addressed to the assistant ("yuva, shut down the system").
//  2. When no pattern matches, the utterance is stripped of filler words and
//     compared token by token against canonical phrases. A token is accepted
//     when it is identical, when its Double Metaphone codes overlap with the
//     canonical token and the Jaro-Winkler similarity is reasonable, or when
//     the Jaro-Winkler similarity alone is very high. This absorbs common
//     speech-recognition slips such as "shut dawn" or "re boot".
//
// A [Filter] holds no mutable state and is safe for concurrent use. Match is
// deterministic, so it may be called from a pure reducer.
package voicecmd

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Action is the local command a phrase maps to.
type Action int

const (
	// None means the input is not a local command.
	None Action = iota
	Shutdown
	Restart
)

// String returns a lowercase name for logging.
func (a Action) String() string {
	switch a {
	case Shutdown:
		return "shutdown"
	case Restart:
		return "restart"
	default:
		return "none"
	}
}

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.95
)

// Pattern pairs a compiled regex with the action it selects.
type Pattern struct {
	Name   string
	Regex  *regexp.Regexp
	Action Action
}

type phrase struct {
	tokens []string
	action Action
}

// Option configures a [Filter].
type Option func(*Filter)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a token whose
// phonetic codes overlap the canonical token. Default: 0.80.
func WithPhoneticThreshold(v float64) Option {
	return func(f *Filter) { f.phoneticThreshold = v }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a token with no
// phonetic overlap. Default: 0.95.
func WithFuzzyThreshold(v float64) Option {
	return func(f *Filter) { f.fuzzyThreshold = v }
}

// Filter recognises power commands.
type Filter struct {
	patterns []Pattern
	phrases  []phrase

	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Filter with the built-in pattern table.
func New(opts ...Option) *Filter {
	f := &Filter{
		patterns:          defaultPatterns(),
		phrases:           defaultPhrases(),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

var defaultFilter = New()

// Match reports the action text maps to using the default filter.
func Match(text string) (Action, bool) {
	return defaultFilter.Match(text)
}

// Match reports the action text maps to. It returns (None, false) when text
// is not a power command.
func (f *Filter) Match(text string) (Action, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return None, false
	}

	for _, p := range f.patterns {
		if p.Regex.MatchString(trimmed) {
			return p.Action, true
		}
	}

	tokens := significantTokens(trimmed)
	if len(tokens) == 0 || len(tokens) > 3 {
		return None, false
	}
	for _, ph := range f.phrases {
		if f.phraseMatches(tokens, ph.tokens) {
			return ph.action, true
		}
	}
	return None, false
}

func (f *Filter) phraseMatches(input, canon []string) bool {
	if len(input) != len(canon) {
		// "re boot" vs "reboot", "shutdown" vs "shut down".
		return strings.Join(input, "") == strings.Join(canon, "")
	}
	for i := range input {
		if !f.tokenMatches(input[i], canon[i]) {
			return false
		}
	}
	return true
}

func (f *Filter) tokenMatches(in, canon string) bool {
	if in == canon {
		return true
	}
	score := matchr.JaroWinkler(in, canon, false)
	if score >= f.fuzzyThreshold {
		return true
	}
	return score >= f.phoneticThreshold && codesOverlap(in, canon)
}

// codesOverlap reports whether a and b share a Double Metaphone code.
func codesOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}

var fillers = map[string]bool{
	"hey": true, "ok": true, "okay": true, "yuva": true,
	"please": true, "now": true, "the": true,
	"system": true, "computer": true, "yourself": true,
}

// significantTokens lowercases text, strips punctuation and drops filler
// words.
func significantTokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if !fillers[w] {
			out = append(out, w)
		}
	}
	return out
}

const (
	addressPrefix = `(?:(?:hey\s+|ok(?:ay)?\s+)?yuva[,!.]?\s+)?(?:please\s+)?`
	targetSuffix  = `(?:\s+(?:the\s+)?(?:system|computer|yourself))?(?:\s+now)?(?:,?\s+please)?[.!]?`
)

func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:   "shutdown",
			Regex:  regexp.MustCompile(`(?i)^` + addressPrefix + `(?:shut\s*down|power\s+(?:off|down))` + targetSuffix + `$`),
			Action: Shutdown,
		},
		{
			Name:   "restart",
			Regex:  regexp.MustCompile(`(?i)^` + addressPrefix + `(?:restart|reboot)` + targetSuffix + `$`),
			Action: Restart,
		},
	}
}

func defaultPhrases() []phrase {
	return []phrase{
		{tokens: []string{"shut", "down"}, action: Shutdown},
		{tokens: []string{"power", "off"}, action: Shutdown},
		{tokens: []string{"power", "down"}, action: Shutdown},
		{tokens: []string{"restart"}, action: Restart},
		{tokens: []string{"reboot"}, action: Restart},
	}
}
