// Package normalize turns a card's fulltext into the canonical ordered
// sentence sequence the dedup engine fingerprints and indexes.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/nearline/nd/internal/types"
)

// DefaultCutoff is the minimum normalized sentence length kept. Shorter
// fragments carry too little signal and would flood the index with noise.
const DefaultCutoff = 20

// boundary marks a sentence break: a run of terminal punctuation followed by
// optional footnote digits, whitespace, then a capital letter. The digits,
// whitespace and capital belong to the next sentence; only the punctuation
// run is consumed.
var boundary = regexp.MustCompile(`([.?!]+)[0-9]*[ \t\r\n\f\v]+[A-Z]`)

// Split breaks fulltext at sentence boundaries without normalizing the
// fragments.
func Split(fulltext string) []string {
	var frags []string
	prev := 0
	for _, m := range boundary.FindAllStringSubmatchIndex(fulltext, -1) {
		punctStart, punctEnd := m[2], m[3]
		if punctStart < prev {
			continue
		}
		frags = append(frags, fulltext[prev:punctStart])
		prev = punctEnd
	}
	frags = append(frags, fulltext[prev:])
	return frags
}

// Clean lowercases a fragment and strips every non-letter rune.
func Clean(fragment string) string {
	var b strings.Builder
	b.Grow(len(fragment))
	for _, r := range fragment {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Sentences produces the ordered normalized sentence sequence for a card.
// Fragments shorter than cutoff runes are dropped; positions index the
// surviving sentences. A cutoff <= 0 falls back to DefaultCutoff.
func Sentences(fulltext string, cutoff int) []types.Sentence {
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	var out []types.Sentence
	for _, frag := range Split(fulltext) {
		clean := Clean(frag)
		if len([]rune(clean)) < cutoff {
			continue
		}
		out = append(out, types.NewSentence(clean, len(out)))
	}
	return out
}
