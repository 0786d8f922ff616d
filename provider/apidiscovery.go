package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pricewatch/harvester/models"
)

// conventionalAPIPaths are probed on every site in order. Endpoints
// observed in inline scripts during analysis are tried first.
var conventionalAPIPaths = []string{
	"/api/products",
	"/api/v1/products",
	"/api/items",
	"/api/catalog/products",
	"/products.json",
	"/api/search",
	"/wp-json/wc/store/products",
}

// listFieldNames are the JSON keys under which product collections hide.
var listFieldNames = []string{"products", "items", "data", "results"}

const maxProbes = 12

// APIDiscovery probes conventional and observed API endpoints and treats
// any JSON response with a list-shaped field as a usable product feed.
type APIDiscovery struct {
	client *http.Client
	ua     string
}

// NewAPIDiscovery builds the hidden-API provider.
func NewAPIDiscovery(userAgent string) *APIDiscovery {
	return &APIDiscovery{
		client: &http.Client{},
		ua:     userAgent,
	}
}

// Kind implements Provider.
func (p *APIDiscovery) Kind() models.ProviderKind {
	return models.ProviderAPI
}

// Attempt implements Provider. The first endpoint yielding items wins;
// non-JSON and error responses just advance to the next candidate.
func (p *APIDiscovery) Attempt(ctx context.Context, target models.Target, strategy models.Strategy) models.ExtractionAttempt {
	attempt := begin(models.ProviderAPI)

	base, err := url.Parse(target.URL)
	if err != nil {
		return fail(attempt, fmt.Errorf("parse target url: %w", err), 0)
	}

	probeCtx, cancel := context.WithTimeout(ctx, strategy.Timeout)
	defer cancel()

	var lastErr error
	lastStatus := 0
	for _, endpoint := range p.candidates(strategy) {
		probeURL := resolveEndpoint(base, endpoint)

		items, status, err := p.probe(probeCtx, probeURL)
		if err != nil {
			if probeCtx.Err() != nil {
				return fail(attempt, ErrTimeout{Err: probeCtx.Err()}, 0)
			}
			lastErr = err
			lastStatus = status
			continue
		}
		if len(items) > 0 {
			return succeed(attempt, items)
		}
	}

	if lastErr != nil {
		return fail(attempt, fmt.Errorf("no usable endpoint: %w", lastErr), lastStatus)
	}
	return succeed(attempt, nil)
}

func (p *APIDiscovery) candidates(strategy models.Strategy) []string {
	candidates := make([]string, 0, len(strategy.APIEndpoints)+len(conventionalAPIPaths))
	seen := make(map[string]struct{})
	for _, endpoint := range strategy.APIEndpoints {
		if _, dup := seen[endpoint]; !dup {
			seen[endpoint] = struct{}{}
			candidates = append(candidates, endpoint)
		}
	}
	for _, endpoint := range conventionalAPIPaths {
		if _, dup := seen[endpoint]; !dup {
			seen[endpoint] = struct{}{}
			candidates = append(candidates, endpoint)
		}
	}
	if len(candidates) > maxProbes {
		candidates = candidates[:maxProbes]
	}
	return candidates
}

func (p *APIDiscovery) probe(ctx context.Context, probeURL string) ([]models.RawItem, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if p.ua != "" {
		req.Header.Set("User-Agent", p.ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("%s: http status %d", probeURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s: not json", probeURL)
	}

	list := findList(payload)
	if list == nil {
		return nil, resp.StatusCode, nil
	}
	return mapItems(list), resp.StatusCode, nil
}

// findList locates the product collection: a top-level array, or one of
// the conventional list fields at the top level or nested one level down.
func findList(payload any) []any {
	if list, ok := payload.([]any); ok {
		return list
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	for _, field := range listFieldNames {
		switch v := obj[field].(type) {
		case []any:
			return v
		case map[string]any:
			for _, inner := range listFieldNames {
				if list, ok := v[inner].([]any); ok {
					return list
				}
			}
		}
	}
	return nil
}

// mapItems normalizes heterogeneous API field names into the common raw
// schema.
func mapItems(list []any) []models.RawItem {
	items := make([]models.RawItem, 0, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := models.RawItem{
			Title:        stringField(obj, "title", "name", "label", "product_name"),
			Price:        priceField(obj, "price", "cost", "amount", "price_amount"),
			Currency:     stringField(obj, "currency", "currency_code"),
			URL:          stringField(obj, "url", "link", "href", "permalink"),
			ImageURL:     stringField(obj, "image", "image_url", "thumbnail", "img"),
			Availability: availabilityField(obj),
		}
		if item.Title == "" || item.Price == "" {
			continue
		}
		items = append(items, item)
		if len(items) >= maxItemsPerPage {
			break
		}
	}
	return items
}

func stringField(obj map[string]any, names ...string) string {
	for _, name := range names {
		if s, ok := obj[name].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func priceField(obj map[string]any, names ...string) string {
	for _, name := range names {
		switch v := obj[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case map[string]any:
			// Nested money objects: {"amount": ..., "currency": ...}
			if inner := priceField(v, "amount", "value"); inner != "" {
				return inner
			}
		}
	}
	return ""
}

func availabilityField(obj map[string]any) string {
	switch v := obj["availability"].(type) {
	case string:
		return v
	case bool:
		if v {
			return "in stock"
		}
		return "out of stock"
	}
	for _, name := range []string{"in_stock", "available"} {
		if b, ok := obj[name].(bool); ok {
			if b {
				return "in stock"
			}
			return "out of stock"
		}
	}
	if s, ok := obj["stock_status"].(string); ok {
		return s
	}
	return ""
}

// resolveEndpoint joins a candidate path with the target's origin;
// absolute URLs pass through untouched.
func resolveEndpoint(base *url.URL, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	ref := &url.URL{Path: endpoint}
	if parsed, err := url.Parse(endpoint); err == nil {
		ref = parsed
	}
	return base.ResolveReference(ref).String()
}
