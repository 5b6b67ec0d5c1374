package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a descriptive field for comparison: accents are stripped,
// case is folded, and whitespace runs collapse to one space with no leading
// or trailing space. "Oficína  " and "OFICINA" normalize to the same value.
func Normalize(s string) string {
	// Transformers carry state, so each call builds its own chain.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)
	return strings.Join(strings.Fields(out), " ")
}

// Equal reports whether two field values are the same after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
