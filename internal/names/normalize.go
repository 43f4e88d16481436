// Package names provides name normalization and deterministic string
// similarity scoring shared between the matcher and the AI judge.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopTokens are name particles and suffixes that carry no identity signal
// ("Sergio Ramos" vs "Ramos, Sergio Jr." should compare equal).
var stopTokens = map[string]struct{}{
	"de": {}, "del": {}, "da": {}, "das": {}, "dos": {}, "do": {},
	"la": {}, "le": {}, "el": {}, "van": {}, "von": {}, "der": {},
	"den": {}, "di": {}, "du": {}, "ten": {}, "ter": {},
	"jr": {}, "sr": {}, "junior": {}, "senior": {},
	"ii": {}, "iii": {}, "iv": {}, "v": {}, "vi": {},
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Normalize folds a free-text name into its canonical token list: lowercase
// ASCII tokens with separators collapsed, purely numeric tokens and name
// particles removed. Degenerate input yields an empty slice, never an error.
func Normalize(raw string) []string {
	s := RemoveDiacritics(raw)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			// Hyphens, apostrophes, periods, underscores and any other
			// punctuation all act as token separators.
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if isNumeric(tok) {
			continue
		}
		if _, stop := stopTokens[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// NormalizeJoined returns the normalized tokens joined by single spaces.
func NormalizeJoined(raw string) string {
	return strings.Join(Normalize(raw), " ")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
