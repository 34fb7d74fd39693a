// Package headsign normalizes destination texts for display. Operator
// feeds deliver headsigns in ALL CAPS; those are rewritten to Spanish
// title case with connective particles kept lowercase.
package headsign

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titler = cases.Title(language.Spanish)

// particles stay lowercase anywhere but the first word.
var particles = map[string]bool{
	"de": true, "del": true, "la": true, "las": true, "los": true,
	"el": true, "y": true, "e": true, "o": true, "u": true,
	"a": true, "al": true, "en": true, "con": true, "por": true,
	"para": true, "sin": true, "sobre": true, "entre": true,
}

// Normalize title-cases an all-caps headsign. Mixed-case input is
// already display text and comes back unchanged, which makes Normalize
// idempotent.
func Normalize(h string) string {
	trimmed := strings.TrimSpace(h)
	if trimmed == "" {
		return trimmed
	}
	if trimmed != strings.ToUpper(trimmed) {
		return trimmed
	}
	words := strings.Fields(titler.String(trimmed))
	for i := 1; i < len(words); i++ {
		if lw := strings.ToLower(words[i]); particles[lw] {
			words[i] = lw
		}
	}
	return strings.Join(words, " ")
}
