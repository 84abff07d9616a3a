package linking

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nameFolder strips diacritics and case so "José", "JOSE" and "jose" compare
// equal. Marketplace display names mix scripts and casing freely.
var nameFolder = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

var lowerCaser = cases.Lower(language.Und)

// NormalizeName canonicalizes a customer display name for comparison:
// diacritics removed, case folded, whitespace collapsed.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	folded, _, err := transform.String(nameFolder, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(lowerCaser.String(folded)), " ")
}

// containsEither reports whether one normalized name contains the other.
// Single-token fragments shorter than 3 runes are too ambiguous to count.
func containsEither(a, b string) bool {
	shorter := a
	if len(b) < len(a) {
		shorter = b
	}
	if len([]rune(shorter)) < 3 {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Tokens splits free text into a set of normalized word tokens for
// Jaccard-style overlap. Tokens shorter than 3 runes carry no signal.
func Tokens(s string) map[string]bool {
	out := make(map[string]bool)
	fields := strings.FieldsFunc(lowerCaser.String(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			out[f] = true
		}
	}
	return out
}
