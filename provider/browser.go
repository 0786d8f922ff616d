package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/pricewatch/harvester/browserpool"
	"github.com/pricewatch/harvester/models"
)

// Browser renders the page in a pooled headless browser before parsing,
// so client-side rendered listings become extractable. Stealth mode masks
// automation fingerprints for sites with defensive measures.
type Browser struct {
	pool       *browserpool.Pool
	ua         string
	maxScrolls int
}

// NewBrowser builds the headless-browser provider on top of a shared
// pool.
func NewBrowser(pool *browserpool.Pool, userAgent string, maxScrolls int) *Browser {
	if maxScrolls < 0 {
		maxScrolls = 0
	}
	return &Browser{
		pool:       pool,
		ua:         userAgent,
		maxScrolls: maxScrolls,
	}
}

// Kind implements Provider.
func (p *Browser) Kind() models.ProviderKind {
	return models.ProviderBrowser
}

// Attempt implements Provider. The pooled handle is released on every
// exit path; a handle that crashed mid-attempt is flagged so the pool
// replaces it instead of recycling it.
func (p *Browser) Attempt(ctx context.Context, target models.Target, strategy models.Strategy) models.ExtractionAttempt {
	attempt := begin(models.ProviderBrowser)

	base, err := url.Parse(target.URL)
	if err != nil {
		return fail(attempt, fmt.Errorf("parse target url: %w", err), 0)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, strategy.Timeout)
	defer cancel()

	handle, err := p.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fail(attempt, ErrTimeout{Err: err}, 0)
		}
		return fail(attempt, ErrResource{Err: err}, 0)
	}
	defer p.pool.Release(handle)

	html, err := p.render(handle, target.URL, strategy)
	if err != nil {
		if Classify(err, 0) != models.ErrKindTimeout {
			// A timeout is the page's fault; anything else means the
			// browser process is suspect.
			handle.MarkBad()
			return fail(attempt, ErrResource{Err: err}, 0)
		}
		return fail(attempt, err, 0)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fail(attempt, fmt.Errorf("parse rendered dom: %w", err), 0)
	}
	return succeed(attempt, extractItems(doc, strategy.Selectors, base))
}

func (p *Browser) render(handle *browserpool.Handle, pageURL string, strategy models.Strategy) (string, error) {
	page, err := handle.Page(strategy.Stealth)
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Timeout(strategy.Timeout)
	if p.ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: p.ua}); err != nil {
			return "", fmt.Errorf("set user agent: %w", err)
		}
	}

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	if err := p.waitForContent(page, strategy); err != nil {
		return "", err
	}
	p.scrollForLazyContent(page, strategy)

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read rendered dom: %w", err)
	}
	return html, nil
}

// waitForContent waits for the product container selector when one is
// known, otherwise for the load event.
func (p *Browser) waitForContent(page *rod.Page, strategy models.Strategy) error {
	if strategy.Selectors.Empty() {
		if err := page.WaitLoad(); err != nil {
			return ErrTimeout{Err: fmt.Errorf("wait load: %w", err)}
		}
		return nil
	}
	if _, err := page.Element(strategy.Selectors.Container); err != nil {
		return ErrTimeout{Err: fmt.Errorf("wait for %q: %w", strategy.Selectors.Container, err)}
	}
	return nil
}

// scrollForLazyContent nudges lazy loaders a bounded number of times.
// Scroll failures are ignored; whatever rendered so far still gets
// parsed.
func (p *Browser) scrollForLazyContent(page *rod.Page, strategy models.Strategy) {
	for i := 0; i < p.maxScrolls; i++ {
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return
		}
		if el, err := page.Timeout(time.Second).ElementR("button, a", `(?i)(load more|show more|voir plus|mehr anzeigen)`); err == nil {
			_ = el.Click(proto.InputMouseButtonLeft, 1)
		}
		time.Sleep(250 * time.Millisecond)
	}
}
