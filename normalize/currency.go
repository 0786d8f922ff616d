package normalize

import (
	"regexp"
	"strings"
)

// currencySymbols maps unambiguous symbols found in price text to ISO
// codes. Multi-rune symbols are checked before single-rune ones.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"R$", "BRL"},
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"US$", "USD"},
	{"zł", "PLN"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"￥", "JPY"},
	{"₫", "VND"},
	{"₹", "INR"},
	{"₩", "KRW"},
	{"₽", "RUB"},
	{"₺", "TRY"},
	{"₪", "ILS"},
	{"₱", "PHP"},
	{"฿", "THB"},
	{"﷼", "IRR"},
	{"$", "USD"},
}

var currencyCodeRe = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|VND|INR|KRW|RUB|BRL|CAD|AUD|TRY|ILS|PHP|THB|IRR|IDR|PLN|SEK|NOK|DKK|CHF|MXN|CLP|ISK|BHD|KWD|OMR|TND)\b`)

// DetectCurrency resolves the currency tagged in price text, or "" when
// nothing recognizable is present.
func DetectCurrency(text string) string {
	upper := strings.ToUpper(text)
	if m := currencyCodeRe.FindString(upper); m != "" {
		return m
	}
	for _, entry := range currencySymbols {
		if strings.Contains(text, entry.symbol) {
			return entry.code
		}
	}
	return ""
}
