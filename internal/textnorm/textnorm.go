// Package textnorm holds the text normalization rules shared by transcript
// synthesis, cut planning, placement content and the asset cache key.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Ellipsis marks truncated content.
const Ellipsis = "…"

// Fold applies NFKC and Unicode case folding.
func Fold(s string) string {
	// Casers keep state; a fresh one per call is safe across goroutines.
	return cases.Fold().String(norm.NFKC.String(s))
}

// Token normalizes a single spoken word: folded, punctuation stripped.
func Token(s string) string {
	s = Fold(strings.TrimSpace(s))
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokens splits text into normalized, punctuation-free tokens.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

var apostrophes = strings.NewReplacer("'", "", "\u2019", "", "\u02bc", "")

// Fingerprint is the first n normalized tokens joined by a space. Straight and
// typographic apostrophes are dropped, so "don't" and "dont" compare equal.
func Fingerprint(s string, n int) string {
	toks := Tokens(apostrophes.Replace(s))
	if len(toks) > n {
		toks = toks[:n]
	}
	return strings.Join(toks, " ")
}

// Query normalizes a free-text search query for cache addressing.
func Query(s string) string {
	return strings.Join(strings.Fields(Fold(s)), " ")
}

// TruncateWords keeps at most n words; truncated text ends with Ellipsis.
func TruncateWords(s string, n int) (string, bool) {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " "), false
	}
	if n <= 0 {
		return "", true
	}
	out := strings.Join(words[:n], " ")
	out = strings.TrimRightFunc(out, unicode.IsPunct) + Ellipsis
	return out, true
}

// TruncateRunes keeps the result within n runes, Ellipsis included.
func TruncateRunes(s string, n int) (string, bool) {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	if n <= 0 {
		return "", true
	}
	cut := strings.TrimRightFunc(string(r[:n-1]), unicode.IsSpace)
	return cut + Ellipsis, true
}

// Slug lower-cases s and collapses every run of non-alphanumerics into a
// single dash, for use as a file or directory name.
func Slug(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
