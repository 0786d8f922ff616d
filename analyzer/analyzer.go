// Package analyzer classifies target sites and infers how to extract
// listings from them. Analysis runs on one lightweight, non-rendering
// sample fetch; results are cached per domain.
package analyzer

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricewatch/harvester/models"
)

// Analyzer fetches a representative page for a domain and produces a
// SiteProfile: rendering classification, e-commerce confidence, detected
// defensive measures, inferred selectors, and a provider ranking.
type Analyzer struct {
	client *http.Client
	cache  ProfileCache
	ua     string
}

// Options configures an Analyzer.
type Options struct {
	UserAgent    string
	FetchTimeout time.Duration
	Cache        ProfileCache
}

// New builds an analyzer. A nil cache disables caching.
func New(opts Options) *Analyzer {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Analyzer{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		cache: opts.Cache,
		ua:    opts.UserAgent,
	}
}

// Analyze returns the profile for a target URL, reusing a cached profile
// for the domain when one is still live. An unreachable or unparsable
// target yields a zero-confidence unknown profile; Analyze never fails.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string) *models.SiteProfile {
	domain := domainOf(rawURL)

	if a.cache != nil {
		if profile, ok := a.cache.Get(domain); ok {
			return profile
		}
	}

	profile := a.fetchAndClassify(ctx, rawURL, domain)

	// Insufficient profiles are not cached: the next call should probe
	// the site again instead of pinning a blind profile for a full TTL.
	if a.cache != nil && !profile.Insufficient {
		a.cache.Add(domain, profile)
	}
	return profile
}

// Invalidate drops the cached profile for a domain, forcing reanalysis on
// the next call. The engine invalidates after repeated failures.
func (a *Analyzer) Invalidate(domain string) {
	if a.cache != nil {
		a.cache.Remove(domain)
	}
}

func (a *Analyzer) fetchAndClassify(ctx context.Context, rawURL, domain string) *models.SiteProfile {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return insufficientProfile(domain)
	}
	if a.ua != "" {
		req.Header.Set("User-Agent", a.ua)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Debug("analysis fetch failed", slog.String("domain", domain), slog.Any("error", err))
		return insufficientProfile(domain)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		slog.Debug("analysis parse failed", slog.String("domain", domain), slog.Any("error", err))
		return insufficientProfile(domain)
	}

	page := inspect(doc)

	profile := &models.SiteProfile{
		Domain:              domain,
		SiteType:            classify(page),
		EcommerceConfidence: confidence(page),
		Selectors:           inferSelectors(doc),
		DefensiveMeasures:   detectDefenses(page, resp),
		ScriptEndpoints:     page.scriptEndpoints,
		AnalyzedAt:          time.Now().UTC(),
	}
	profile.RankedProviders = rankProviders(profile)

	slog.Debug("site analyzed",
		slog.String("domain", domain),
		slog.String("site_type", string(profile.SiteType)),
		slog.Float64("confidence", profile.EcommerceConfidence),
		slog.Int("defenses", len(profile.DefensiveMeasures)),
	)
	return profile
}

func insufficientProfile(domain string) *models.SiteProfile {
	return &models.SiteProfile{
		Domain:          domain,
		SiteType:        models.SiteUnknown,
		RankedProviders: []models.ProviderKind{models.ProviderHTTP, models.ProviderBrowser, models.ProviderAPI},
		Insufficient:    true,
		AnalyzedAt:      time.Now().UTC(),
	}
}

// rankProviders orders extraction strategies by expected success for the
// profiled site. API discovery is always appended as a cheap final check
// unless it already leads the ranking.
func rankProviders(p *models.SiteProfile) []models.ProviderKind {
	var ranked []models.ProviderKind
	switch {
	case p.HasDefense(models.DefenseCaptcha), p.HasDefense(models.DefenseCDNChallenge):
		ranked = []models.ProviderKind{models.ProviderBrowser, models.ProviderHTTP}
	case p.SiteType == models.SiteAPIDriven:
		ranked = []models.ProviderKind{models.ProviderAPI, models.ProviderBrowser, models.ProviderHTTP}
	case p.SiteType == models.SiteSPA, p.HasDefense(models.DefenseHeavyJS), p.HasDefense(models.DefenseJSRequired):
		ranked = []models.ProviderKind{models.ProviderBrowser, models.ProviderHTTP}
	default:
		ranked = []models.ProviderKind{models.ProviderHTTP, models.ProviderBrowser}
	}

	for _, kind := range ranked {
		if kind == models.ProviderAPI {
			return ranked
		}
	}
	return append(ranked, models.ProviderAPI)
}

func domainOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(parsed.Hostname())
}
