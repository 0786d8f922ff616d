// Package normalize converts raw extracted fields into canonical typed
// listing records. Prices always become integers in the smallest currency
// unit; nothing downstream ever sees a float.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pricewatch/harvester/models"
)

var (
	// ErrNoPrice is returned when no numeric amount could be found.
	ErrNoPrice = errors.New("normalize: no numeric amount in price text")
	// ErrPriceOutOfRange is returned for amounts outside the configured
	// sanity bounds. Out-of-range values are rejected, never stored.
	ErrPriceOutOfRange = errors.New("normalize: price outside sanity bounds")
	// ErrMissingTitle is returned for items without a usable title.
	ErrMissingTitle = errors.New("normalize: item missing title")
)

// Normalizer applies one canonical parsing policy for every provider.
type Normalizer struct {
	minMinor        int64
	maxMinor        int64
	defaultCurrency string
}

// New builds a normalizer with absolute price bounds in minor units and a
// fallback currency for untagged amounts.
func New(minMinor, maxMinor int64, defaultCurrency string) *Normalizer {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Normalizer{
		minMinor:        minMinor,
		maxMinor:        maxMinor,
		defaultCurrency: strings.ToUpper(defaultCurrency),
	}
}

// Listing converts one raw item into a canonical record. The returned
// error explains rejection; rejected items carry no partial data forward.
func (n *Normalizer) Listing(raw models.RawItem, target models.Target) (*models.Listing, error) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return nil, ErrMissingTitle
	}

	currencyHint := raw.Currency
	minor, currency, err := n.ParsePrice(raw.Price, currencyHint)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, raw.Price)
	}

	available, assumed := ParseAvailability(raw.Availability)

	listing := &models.Listing{
		Title:               title,
		PriceMinorUnits:     minor,
		Currency:            currency,
		VendorDomain:        target.Domain,
		Available:           available,
		AvailabilityAssumed: assumed,
		URL:                 raw.URL,
		ImageURL:            raw.ImageURL,
		ScrapedAt:           time.Now().UTC(),
	}
	if hasNonASCII(title) {
		listing.TitleLocalized = title
	}
	return listing, nil
}

var amountRe = regexp.MustCompile(`[0-9]+(?:[0-9.,\x{00A0} ']*[0-9])?`)

// ParsePrice extracts an amount from free-form price text and returns it
// in minor units together with the resolved ISO currency code.
//
// Parsing policy, in order: translate localized digit systems to ASCII,
// locate the first numeric run, resolve thousands versus decimal
// separators, detect the currency from symbols or codes in the text,
// convert to minor units via the currency's exponent, apply the
// magnitude-correction heuristic, and enforce the absolute bounds.
func (n *Normalizer) ParsePrice(text, currencyHint string) (int64, string, error) {
	translated := TranslateDigits(text)

	loc := amountRe.FindStringIndex(translated)
	if loc == nil {
		return 0, "", ErrNoPrice
	}
	run := translated[loc[0]:loc[1]]

	currency := currencyHint
	if currency == "" {
		currency = DetectCurrency(translated)
	}
	if currency == "" {
		currency = n.defaultCurrency
	}
	currency = strings.ToUpper(currency)

	major, frac, err := splitAmount(run)
	if err != nil {
		return 0, "", err
	}

	exp := minorExponent(currency)
	minor, err := toMinorUnits(major, frac, exp)
	if err != nil {
		return 0, "", err
	}

	minor = applyShorthand(minor, translated, loc[1])
	minor = n.correctMagnitude(minor, currency)

	if minor < n.minMinor || minor > n.maxMinor {
		return 0, "", ErrPriceOutOfRange
	}
	return minor, currency, nil
}

// splitAmount resolves separators in a numeric run and returns the integer
// part plus fractional digits. A trailing group of one or two digits after
// the last separator is a decimal fraction; three-digit groups are
// thousands grouping.
func splitAmount(run string) (string, string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', '\'':
			return -1
		}
		return r
	}, run)

	lastComma := strings.LastIndexByte(cleaned, ',')
	lastDot := strings.LastIndexByte(cleaned, '.')
	sepIdx := lastComma
	if lastDot > sepIdx {
		sepIdx = lastDot
	}

	major := cleaned
	frac := ""
	if sepIdx >= 0 {
		tail := cleaned[sepIdx+1:]
		if len(tail) >= 1 && len(tail) <= 2 {
			major = cleaned[:sepIdx]
			frac = tail
		}
	}

	major = strings.Map(func(r rune) rune {
		if r == ',' || r == '.' {
			return -1
		}
		return r
	}, major)

	if major == "" && frac == "" {
		return "", "", ErrNoPrice
	}
	if major == "" {
		major = "0"
	}
	return major, frac, nil
}

func toMinorUnits(major, frac string, exp int) (int64, error) {
	value, err := strconv.ParseInt(major, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("normalize: amount overflow: %w", err)
	}

	for i := 0; i < exp; i++ {
		if value > (1<<62)/10 {
			return 0, ErrPriceOutOfRange
		}
		value *= 10
		if i < len(frac) {
			value += int64(frac[i] - '0')
		}
	}
	// Fractional digits on a zero-exponent currency are grouping noise,
	// not cents; they were already folded into major by splitAmount only
	// when one or two digits long, so drop them here.
	return value, nil
}

// applyShorthand expands k/m style magnitude suffixes immediately after
// the numeric run ("25k", "1.2m", Vietnamese "tr" for million).
func applyShorthand(minor int64, text string, runEnd int) int64 {
	rest := strings.TrimSpace(text[runEnd:])
	lower := strings.ToLower(rest)
	switch suffixWord(lower) {
	case "k":
		return minor * 1_000
	case "m", "mn", "tr", "million":
		return minor * 1_000_000
	}
	return minor
}

// suffixWord returns the leading letter run of s.
func suffixWord(s string) string {
	for i, r := range s {
		if r < 'a' || r > 'z' {
			return s[:i]
		}
	}
	return s
}

// typicalFloorMinor holds, per currency, the smallest amount a genuine
// listing price plausibly reaches. Amounts below the floor are assumed to
// be quoted in thousands (a common shorthand on high-denomination
// currencies) and are scaled up once.
var typicalFloorMinor = map[string]int64{
	"VND": 1_000,
	"IRR": 1_000,
	"IDR": 1_000,
	"KRW": 100,
}

func (n *Normalizer) correctMagnitude(minor int64, currency string) int64 {
	floor, ok := typicalFloorMinor[currency]
	if !ok {
		return minor
	}
	if minor > 0 && minor < floor {
		scaled := minor * 1_000
		if scaled <= n.maxMinor {
			return scaled
		}
	}
	return minor
}

// minorExponent returns the number of minor-unit digits for a currency.
func minorExponent(currency string) int {
	switch currency {
	case "JPY", "KRW", "VND", "IRR", "CLP", "ISK", "IDR":
		return 0
	case "BHD", "KWD", "OMR", "TND":
		return 3
	default:
		return 2
	}
}

func hasNonASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return true
		}
	}
	return false
}
