package provider

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatch/harvester/models"
)

// currencyNumberRe matches currency-tagged numbers in element text, used
// by the generic extraction heuristic.
var currencyNumberRe = regexp.MustCompile(`(?i)(?:[$€£¥₫₹₩₽₺﷼]\s?\d[\d.,]*|\d[\d.,]*\s?(?:[$€£¥₫₹₩₽₺﷼]|USD|EUR|GBP|JPY|VND|INR|KRW|RUB|BRL))`)

const maxItemsPerPage = 200

// extractItems pulls raw items out of a parsed document using the
// strategy's selectors. When the selectors match nothing (or none were
// inferred) it falls back to the generic heuristic.
func extractItems(doc *goquery.Document, selectors models.SelectorSet, base *url.URL) []models.RawItem {
	if !selectors.Empty() {
		items := selectorItems(doc, selectors, base)
		if len(items) > 0 {
			return items
		}
	}
	return genericItems(doc, base)
}

func selectorItems(doc *goquery.Document, selectors models.SelectorSet, base *url.URL) []models.RawItem {
	var items []models.RawItem
	doc.Find(selectors.Container).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		item := models.RawItem{
			Title:    firstText(s, selectors.Title, "h1, h2, h3, h4, a"),
			Price:    firstText(s, selectors.Price, ""),
			URL:      absoluteAttr(s, selectors.Link, "a", "href", base),
			ImageURL: absoluteAttr(s, selectors.Image, "img", "src", base),
		}
		if selectors.Availability != "" {
			item.Availability = strings.TrimSpace(s.Find(selectors.Availability).First().Text())
		}
		if item.Price == "" {
			item.Price = currencyNumberRe.FindString(s.Text())
		}
		if item.Title != "" && item.Price != "" {
			items = append(items, item)
		}
		return len(items) < maxItemsPerPage
	})
	return items
}

// genericItems is the selector-free fallback: any reasonably small
// element containing both an image and a currency-tagged number is taken
// as a listing card.
func genericItems(doc *goquery.Document, base *url.URL) []models.RawItem {
	var items []models.RawItem
	seen := make(map[string]struct{})

	doc.Find("li, article, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find("img").Length() == 0 {
			return true
		}
		text := s.Text()
		price := currencyNumberRe.FindString(text)
		if price == "" || len(text) > 2000 {
			return true
		}
		// Skip wrappers whose children already qualify; the innermost
		// candidate is the listing card.
		if s.Find("li, article, div").FilterFunction(func(_ int, inner *goquery.Selection) bool {
			return inner.Find("img").Length() > 0 && currencyNumberRe.MatchString(inner.Text())
		}).Length() > 0 {
			return true
		}

		item := models.RawItem{
			Title:    firstText(s, "", "h1, h2, h3, h4, a"),
			Price:    price,
			URL:      absoluteAttr(s, "", "a", "href", base),
			ImageURL: absoluteAttr(s, "", "img", "src", base),
		}
		if item.Title == "" {
			return true
		}
		key := item.Title + "|" + item.URL
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		items = append(items, item)
		return len(items) < maxItemsPerPage
	})
	return items
}

// firstText returns the trimmed text of the first element matched by
// selector, falling back to the alternative selector.
func firstText(s *goquery.Selection, selector, fallback string) string {
	if selector != "" {
		if text := strings.TrimSpace(s.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	if fallback != "" {
		return strings.TrimSpace(s.Find(fallback).First().Text())
	}
	return ""
}

// absoluteAttr resolves an attribute of the first matched element against
// the page URL.
func absoluteAttr(s *goquery.Selection, selector, fallback, attr string, base *url.URL) string {
	sel := selector
	if sel == "" {
		sel = fallback
	}
	value, ok := s.Find(sel).First().Attr(attr)
	if !ok || value == "" {
		return ""
	}
	if base == nil {
		return value
	}
	ref, err := url.Parse(value)
	if err != nil {
		return value
	}
	return base.ResolveReference(ref).String()
}
