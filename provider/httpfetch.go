package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/pricewatch/harvester/models"
)

// blockedMarkerRe spots defensive interstitials in a fetched body so a
// 200 response serving a challenge page is still reported as blocked.
var blockedMarkerRe = regexp.MustCompile(`(?i)(?:g-recaptcha|h-captcha|cf-turnstile|cf-browser-verification|__cf_chl|_Incapsula_Resource|datadome)`)

// HTTPFetch is the cheapest strategy: one non-rendering request parsed
// with the inferred or overridden selectors.
type HTTPFetch struct {
	ua        string
	transport http.RoundTripper
}

// NewHTTPFetch builds the plain-HTTP provider.
func NewHTTPFetch(userAgent string) *HTTPFetch {
	return &HTTPFetch{ua: userAgent}
}

// Kind implements Provider.
func (p *HTTPFetch) Kind() models.ProviderKind {
	return models.ProviderHTTP
}

// Attempt implements Provider.
func (p *HTTPFetch) Attempt(ctx context.Context, target models.Target, strategy models.Strategy) models.ExtractionAttempt {
	attempt := begin(models.ProviderHTTP)

	base, err := url.Parse(target.URL)
	if err != nil {
		return fail(attempt, fmt.Errorf("parse target url: %w", err), 0)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(hostVariants(base.Hostname())...),
		colly.UserAgent(p.ua),
		colly.MaxDepth(1),
	)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(strategy.Timeout)
	if p.transport != nil {
		collector.WithTransport(p.transport)
	}

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)
	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			fetchErr = ctx.Err()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			statusCode = r.StatusCode
			body = r.Body
		}
	})

	if err := collector.Visit(target.URL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	collector.Wait()

	if blockedMarkerRe.Match(body) {
		return fail(attempt, ErrBlocked{Err: fmt.Errorf("challenge page served with status %d", statusCode)}, statusCode)
	}
	if fetchErr != nil {
		return fail(attempt, fetchErr, statusCode)
	}
	if statusCode >= http.StatusBadRequest {
		return fail(attempt, fmt.Errorf("http status %d", statusCode), statusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fail(attempt, fmt.Errorf("parse body: %w", err), 0)
	}
	return succeed(attempt, extractItems(doc, strategy.Selectors, base))
}

func hostVariants(host string) []string {
	host = strings.ToLower(host)
	if strings.HasPrefix(host, "www.") {
		return []string{host, strings.TrimPrefix(host, "www.")}
	}
	return []string{host, "www." + host}
}
