package normalize

import "strings"

// digitZero maps the zero rune of every supported localized digit system
// to ASCII. Any rune within [zero, zero+9] translates positionally.
var digitZeros = []rune{
	0x0660, // Arabic-Indic
	0x06F0, // Extended Arabic-Indic (Persian)
	0x0966, // Devanagari
	0x09E6, // Bengali
	0x0A66, // Gurmukhi
	0x0AE6, // Gujarati
	0x0B66, // Oriya
	0x0E50, // Thai
	0x0ED0, // Lao
	0x1040, // Myanmar
	0xFF10, // Fullwidth
}

// TranslateDigits rewrites every supported localized digit to its ASCII
// equivalent and normalizes the Arabic decimal and thousands separators.
// Applied before any numeric parsing so one parser handles all locales.
func TranslateDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case 0x066B: // Arabic decimal separator
			return '.'
		case 0x066C: // Arabic thousands separator
			return ','
		}
		for _, zero := range digitZeros {
			if r >= zero && r <= zero+9 {
				return '0' + (r - zero)
			}
		}
		return r
	}, s)
}
