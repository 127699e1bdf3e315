// Package slug derives lower-case, URL- and filesystem-safe identifiers from
// free text such as a person's name.
package slug

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Make lower-cases the input and joins runs of letters and digits with sep.
// Accented Latin letters fold to their ASCII base; letters of other scripts
// are kept so that distinct non-Latin names stay distinct. Every other
// character is dropped and acts as a word break. The result may be empty.
func Make(s string, sep string) string {
	folded := fold(s)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteString(sep)
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.Is(unicode.M, r) && !pendingSep && b.Len() > 0:
			// Vowel signs and viramas belong to the preceding letter.
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// fold replaces each precomposed letter whose canonical decomposition starts
// with an ASCII letter by that letter ("José" -> "Jose").
func fold(s string) string {
	t := transform.Chain(norm.NFC, runes.Map(latinBase))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func latinBase(r rune) rune {
	if r < utf8.RuneSelf {
		return r
	}
	base, _ := utf8.DecodeRuneInString(norm.NFD.String(string(r)))
	if base < utf8.RuneSelf && unicode.IsLetter(base) {
		return base
	}
	return r
}
