package color

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// diaeresis is the combining mark that turns е into ё once decomposed.
const diaeresis = '\u0308'

// Normalize folds a spoken or configured color name into its lookup key:
// lower case, ё→е, surrounding space trimmed and inner runs of space
// collapsed, NFC on output. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = norm.NFD.String(s)
	s = cases.Lower(language.Russian).String(s)
	s = foldYo(s)
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// foldYo drops every diaeresis that follows е in decomposed text. Spoken
// Russian rarely distinguishes ё from е, so both look up the same entry.
func foldYo(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	afterYe := false
	for _, r := range s {
		if r == diaeresis && afterYe {
			continue
		}
		afterYe = r == 'е'
		b.WriteRune(r)
	}
	return b.String()
}
