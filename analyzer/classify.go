package analyzer

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatch/harvester/models"
)

// pageSignals is everything one pass over the sample document yields.
type pageSignals struct {
	bodyText        string
	bodyHTML        string
	scriptCount     int
	inlineScriptLen int
	htmlLen         int
	spaMarker       bool
	structuredHits  int
	keywordHits     int
	priceHits       int
	scriptEndpoints []string
}

var (
	commerceKeywords = []string{
		"price", "buy", "cart", "checkout", "add to cart", "shipping",
		"in stock", "sale", "order", "precio", "comprar", "carrito",
		"prix", "panier", "acheter", "preis", "kaufen", "warenkorb",
		"цена", "купить", "корзина", "価格", "購入", "カート",
		"giá", "mua ngay", "sepet", "سعر", "شراء",
	}

	// Currency-tagged numbers: symbol-first or amount-first forms.
	pricePatternRe = regexp.MustCompile(`(?i)(?:[$€£¥₫₹₩₽₺﷼]\s?\d[\d.,]*|\d[\d.,]*\s?(?:[$€£¥₫₹₩₽₺﷼]|USD|EUR|GBP|JPY|VND|INR|KRW|RUB|BRL))`)

	structuralAttrRe = regexp.MustCompile(`(?i)(?:class|id|itemprop|data-testid)="[^"]*(?:product|price|cart|sku|listing|item-)[^"]*"`)

	spaMarkerRe = regexp.MustCompile(`(?i)(?:id="(?:__next|___gatsby|root|app)"|data-reactroot|ng-version=|window\.__INITIAL_STATE__|window\.__NUXT__|__NEXT_DATA__)`)

	scriptEndpointRe = regexp.MustCompile(`["'](/(?:api|ajax|graphql|rest)[^"'\s]*)["']`)

	captchaRe = regexp.MustCompile(`(?i)(?:g-recaptcha|h-captcha|cf-turnstile|data-sitekey|captcha-delivery)`)

	cdnChallengeRe = regexp.MustCompile(`(?i)(?:cf-browser-verification|__cf_chl|_Incapsula_Resource|akamai-bot|perimeterx|_pxhd|datadome|sucuri_cloudproxy)`)

	rateLimitTextRe = regexp.MustCompile(`(?i)(?:too many requests|rate limit(?:ed)?|slow down and try again)`)

	jsRequiredRe = regexp.MustCompile(`(?i)(?:enable javascript|javascript is (?:required|disabled)|please turn on javascript)`)
)

// heavyScriptThreshold is the script-element count above which a page is
// assumed to depend on client-side rendering.
const heavyScriptThreshold = 30

func inspect(doc *goquery.Document) pageSignals {
	html, _ := doc.Html()
	text := strings.ToLower(doc.Text())

	sig := pageSignals{
		bodyText: text,
		bodyHTML: html,
		htmlLen:  len(html),
	}

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		sig.scriptCount++
		if _, external := s.Attr("src"); !external {
			body := s.Text()
			sig.inlineScriptLen += len(body)
			for _, match := range scriptEndpointRe.FindAllStringSubmatch(body, 5) {
				if len(sig.scriptEndpoints) < 8 && !contains(sig.scriptEndpoints, match[1]) {
					sig.scriptEndpoints = append(sig.scriptEndpoints, match[1])
				}
			}
		}
	})

	sig.spaMarker = spaMarkerRe.MatchString(html)
	sig.structuredHits = len(structuralAttrRe.FindAllString(html, 64))
	sig.priceHits = len(pricePatternRe.FindAllString(html, 32))
	for _, kw := range commerceKeywords {
		sig.keywordHits += strings.Count(text, kw)
	}
	return sig
}

// classify applies the rendering-strategy rules: SPA framework markers or
// a dominant share of inline script bytes mean SPA; exposed API endpoints
// with little server-rendered structure mean an API-driven site; class-
// based structured markup means static; anything else is unknown.
func classify(sig pageSignals) models.SiteType {
	inlineRatio := 0.0
	if sig.htmlLen > 0 {
		inlineRatio = float64(sig.inlineScriptLen) / float64(sig.htmlLen)
	}

	switch {
	case sig.spaMarker || inlineRatio > 0.35:
		return models.SiteSPA
	case len(sig.scriptEndpoints) > 0 && sig.structuredHits < 3:
		return models.SiteAPIDriven
	case sig.structuredHits >= 3:
		return models.SiteStatic
	default:
		return models.SiteUnknown
	}
}

// confidence scores e-commerce likelihood as a weighted sum capped at 1:
// commerce keyword density 0.4, currency-tagged price patterns 0.3,
// product/price/cart structural attributes 0.3.
func confidence(sig pageSignals) float64 {
	score := capped(sig.keywordHits, 10)*0.4 +
		capped(sig.priceHits, 5)*0.3 +
		capped(sig.structuredHits, 8)*0.3
	if score > 1 {
		score = 1
	}
	return score
}

func capped(hits, limit int) float64 {
	if hits >= limit {
		return 1
	}
	return float64(hits) / float64(limit)
}

// detectDefenses runs the fixed defensive-measure checklist against the
// sample response.
func detectDefenses(sig pageSignals, resp *http.Response) []models.DefensiveMeasure {
	var measures []models.DefensiveMeasure

	if cdnChallengeRe.MatchString(sig.bodyHTML) ||
		(strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare") && resp.StatusCode == http.StatusForbidden) {
		measures = append(measures, models.DefenseCDNChallenge)
	}
	if captchaRe.MatchString(sig.bodyHTML) {
		measures = append(measures, models.DefenseCaptcha)
	}
	if resp.StatusCode == http.StatusTooManyRequests || rateLimitTextRe.MatchString(sig.bodyText) {
		measures = append(measures, models.DefenseRateLimit)
	}
	if jsRequiredRe.MatchString(sig.bodyText) {
		measures = append(measures, models.DefenseJSRequired)
	}
	if sig.scriptCount >= heavyScriptThreshold {
		measures = append(measures, models.DefenseHeavyJS)
	}
	return measures
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
