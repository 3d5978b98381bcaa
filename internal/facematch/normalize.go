package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeMark returns the comparison key of a distinguishing mark
// (trimmed, lowercase, no diacritics, inner whitespace collapsed).
func NormalizeMark(mark string) string {
	mark = RemoveDiacritics(mark)
	mark = strings.ToLower(mark)
	return strings.Join(strings.Fields(mark), " ")
}

// UnionMarks merges mark lists in order, dropping blanks and entries whose
// normalized form was already seen. The first spelling of a mark is kept.
func UnionMarks(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, m := range list {
			key := NormalizeMark(m)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, strings.TrimSpace(m))
		}
	}
	return out
}
