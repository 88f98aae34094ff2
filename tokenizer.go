package linkknn

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// normalize applies Unicode normalization (NFKC) and converts to lowercase.
func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// tokenize splits text into UAX#29 word segments, dropping whitespace-only
// segments. Punctuation segments are kept so that "a.b" and "a b" differ.
func tokenize(s string) []string {
	toks := words.FromString(s)
	var tokens []string
	for toks.Next() {
		tok := toks.Value()
		if isSpace(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func isSpace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// countTokenSequence counts non-overlapping occurrences of needle in haystack.
// An empty needle never matches.
func countTokenSequence(haystack, needle []string) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return 0
	}
	count := 0
	for i := 0; i+len(needle) <= len(haystack); {
		if tokensEqual(haystack[i:i+len(needle)], needle) {
			count++
			i += len(needle)
			continue
		}
		i++
	}
	return count
}

func tokensEqual(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
