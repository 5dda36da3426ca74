// Package unicodedata answers the codepoint classification queries the
// tokenizer consumes: category flags, whitespace membership, simple case
// mappings and NFD decomposition. The data itself is the precomputed
// Unicode tables shipped with the standard library and golang.org/x/text;
// this package is only the read-only view over them.
package unicodedata

import (
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Flags mirrors the regex character classes pre-tokenizer patterns use:
// \p{N} \p{L} \p{Z} \p{M} \p{P} \p{S} \p{C}.
type Flags uint16

const (
	Number Flags = 1 << iota
	Letter
	Separator
	AccentMark
	Punctuation
	Symbol
	Control

	// Undefined marks codepoints that fall in none of the classes above.
	Undefined
)

// Is reports whether any of the classes in want are set.
func (f Flags) Is(want Flags) bool {
	return f&want != 0
}

func Classify(r rune) Flags {
	var f Flags
	if unicode.Is(unicode.N, r) {
		f |= Number
	}
	if unicode.Is(unicode.L, r) {
		f |= Letter
	}
	if unicode.Is(unicode.Z, r) {
		f |= Separator
	}
	if unicode.Is(unicode.M, r) {
		f |= AccentMark
	}
	if unicode.Is(unicode.P, r) {
		f |= Punctuation
	}
	if unicode.Is(unicode.S, r) {
		f |= Symbol
	}
	if unicode.Is(unicode.C, r) {
		f |= Control
	}

	if f == 0 {
		f = Undefined
	}

	return f
}

func IsWhitespace(r rune) bool {
	return unicode.IsSpace(r)
}

// IsWordChar reports whether r belongs to the word class used for
// single-word added-token boundaries: letters and numbers.
func IsWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

func ToLower(r rune) rune {
	return unicode.ToLower(r)
}

func ToUpper(r rune) rune {
	return unicode.ToUpper(r)
}

// Decompose returns the NFD decomposition of r. Codepoints without a
// decomposition map to themselves.
func Decompose(r rune) []rune {
	return []rune(norm.NFD.String(string(r)))
}
