package tja

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Zero-width code points stripped from metadata values. They show up in
// charts copied out of chat apps and spreadsheets and would otherwise split
// otherwise-identical titles into distinct groups.
var zeroWidthRunes = map[rune]struct{}{
	'\u200b': {}, // zero width space
	'\u200c': {}, // zero width non-joiner
	'\u200d': {}, // zero width joiner
	'\ufeff': {}, // zero width no-break space / BOM
	'\u2060': {}, // word joiner
	'\u180e': {}, // mongolian vowel separator
}

// CleanMetadata normalizes a metadata value for storage: NUL and zero-width
// characters are deleted, Unicode format characters are deleted, non-ASCII
// space separators map to a plain space, and runs of horizontal whitespace
// collapse to a single space.
func CleanMetadata(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r == 0 {
			continue
		}
		if _, zw := zeroWidthRunes[r]; zw {
			continue
		}
		if unicode.Is(unicode.Cf, r) {
			continue
		}
		if r == '\u00a0' || (unicode.Is(unicode.Zs, r) && r != ' ') {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return collapseHorizontalWhitespace(b.String())
}

func collapseHorizontalWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\f', '\v':
			if !inRun {
				b.WriteRune(' ')
				inRun = true
			}
		default:
			b.WriteRune(r)
			inRun = false
		}
	}
	return b.String()
}

// Casefold lowercases a string using full Unicode case folding. A fresh
// caser per call: cases.Caser is stateful and not safe for concurrent reuse.
func Casefold(s string) string {
	return cases.Fold().String(s)
}

// TitleKey derives the normalized title key used for grouping and search:
// metadata-cleaned, casefolded, whitespace-collapsed and trimmed.
func TitleKey(title string) string {
	return strings.TrimSpace(Casefold(CleanMetadata(title)))
}
