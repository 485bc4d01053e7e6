package utils

import (
	"strings"
	"unicode"
)

// Cyrillic letters that cameras emit in place of their Latin look-alikes.
var homoglyphs = map[rune]rune{
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'У': 'Y', 'Х': 'X',
}

// NormalizePlate upper-cases the plate, folds Cyrillic look-alikes to Latin
// and drops everything that is not a letter or digit.
func NormalizePlate(plate string) string {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	if plate == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range plate {
		if mapped, ok := homoglyphs[r]; ok {
			r = mapped
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
