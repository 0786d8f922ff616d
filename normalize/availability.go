package normalize

import "strings"

// Localized availability phrases. Negative phrases are checked first so
// "out of stock" never matches through its "stock" substring.
var (
	unavailablePhrases = []string{
		"out of stock", "sold out", "unavailable", "not available",
		"no longer available", "discontinued", "esgotado", "agotado",
		"indisponível", "ausverkauft", "nicht verfügbar", "épuisé",
		"rupture de stock", "esaurito", "нет в наличии", "распродано",
		"品切れ", "売り切れ", "在庫なし", "품절", "hết hàng", "สินค้าหมด",
	}
	availablePhrases = []string{
		"in stock", "available", "add to cart", "add to basket",
		"buy now", "ships", "em estoque", "disponível", "en stock",
		"disponible", "auf lager", "verfügbar", "disponibile",
		"в наличии", "在庫あり", "재고 있음", "còn hàng", "มีสินค้า",
	}
)

// ParseAvailability maps free-form availability text onto a boolean.
// Ambiguous or empty text defaults to available with assumed=true; the
// default is a deliberate, flagged policy rather than a silent guess.
func ParseAvailability(text string) (available, assumed bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return true, true
	}
	for _, phrase := range unavailablePhrases {
		if strings.Contains(lower, phrase) {
			return false, false
		}
	}
	for _, phrase := range availablePhrases {
		if strings.Contains(lower, phrase) {
			return true, false
		}
	}
	return true, true
}
