package analyzer

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatch/harvester/models"
)

var (
	containerClassRe = regexp.MustCompile(`(?i)(?:product|listing|item|card|offer)`)
	priceClassRe     = regexp.MustCompile(`(?i)(?:price|amount|cost|value)`)
	titleClassRe     = regexp.MustCompile(`(?i)(?:title|name|label|heading)`)
	availClassRe     = regexp.MustCompile(`(?i)(?:stock|avail|status)`)
)

// inferSelectors picks the most frequent class name among elements that
// look like product containers, then resolves field selectors the same
// way inside those containers. Sparse pages yield an empty set and the
// providers fall back to their generic heuristics.
func inferSelectors(doc *goquery.Document) models.SelectorSet {
	container := mostFrequentClass(doc.Selection, containerClassRe, 2)
	if container == "" {
		return models.SelectorSet{}
	}

	set := models.SelectorSet{
		Container: "." + container,
		Link:      "a",
		Image:     "img",
	}

	scope := doc.Find(set.Container)
	if price := mostFrequentClass(scope, priceClassRe, 1); price != "" {
		set.Price = "." + price
	}
	if title := mostFrequentClass(scope, titleClassRe, 1); title != "" {
		set.Title = "." + title
	}
	if avail := mostFrequentClass(scope, availClassRe, 1); avail != "" {
		set.Availability = "." + avail
	}
	return set
}

// mostFrequentClass returns the class name matching re that appears on
// the largest number of elements under root, requiring at least minCount
// occurrences.
func mostFrequentClass(root *goquery.Selection, re *regexp.Regexp, minCount int) string {
	counts := make(map[string]int)
	root.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		classes, _ := s.Attr("class")
		for _, class := range strings.Fields(classes) {
			if re.MatchString(class) {
				counts[class]++
			}
		}
	})

	best := ""
	bestCount := minCount - 1
	for class, count := range counts {
		if count > bestCount || (count == bestCount && best != "" && class < best) {
			best = class
			bestCount = count
		}
	}
	return best
}
