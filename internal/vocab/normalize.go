package vocab

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Canonicalize folds a mention or label into the form used for exact lookup:
// NFKC-normalized, lowercased, punctuation stripped at token edges, single
// spaces. Both sides of every string comparison in the engine go through
// this.
func Canonicalize(s string) string {
	s = norm.NFKC.String(s)
	s = lower.String(s)

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// Tokens splits an already-canonicalized string into its tokens.
func Tokens(canonical string) []string {
	return strings.Fields(canonical)
}
