package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pricewatch/harvester/analyzer"
	"github.com/pricewatch/harvester/config"
	"github.com/pricewatch/harvester/models"
	"github.com/pricewatch/harvester/normalize"
	"github.com/pricewatch/harvester/planner"
	"github.com/pricewatch/harvester/provider"
	"github.com/pricewatch/harvester/ratelimit"
)

// fakeProvider scripts attempt outcomes per call so chain behavior is
// testable without any network or browser.
type fakeProvider struct {
	kind    models.ProviderKind
	respond func(call int) models.ExtractionAttempt
	delay   time.Duration

	mu       sync.Mutex
	calls    int
	inFlight int32
	maxSeen  int32
}

func (f *fakeProvider) Kind() models.ProviderKind { return f.kind }

func (f *fakeProvider) Attempt(ctx context.Context, target models.Target, strategy models.Strategy) models.ExtractionAttempt {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	current := atomic.AddInt32(&f.inFlight, 1)
	for {
		observed := atomic.LoadInt32(&f.maxSeen)
		if current <= observed || atomic.CompareAndSwapInt32(&f.maxSeen, observed, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(&f.inFlight, -1)

	return f.respond(call)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func successAttempt(kind models.ProviderKind, itemCount int) models.ExtractionAttempt {
	items := make([]models.RawItem, itemCount)
	for i := range items {
		items[i] = models.RawItem{
			Title: fmt.Sprintf("Item %d", i+1),
			Price: "$10.00",
			URL:   fmt.Sprintf("http://shop.example.test/p/%d", i+1),
		}
	}
	return models.ExtractionAttempt{
		Provider:     kind,
		Outcome:      models.OutcomeSuccess,
		Items:        items,
		RawItemCount: itemCount,
	}
}

func failedAttempt(kind models.ProviderKind, errKind models.ErrorKind) models.ExtractionAttempt {
	return models.ExtractionAttempt{
		Provider:  kind,
		Outcome:   models.OutcomeFailed,
		ErrorKind: errKind,
		Err:       fmt.Errorf("scripted %s failure", errKind),
	}
}

func emptyAttempt(kind models.ProviderKind) models.ExtractionAttempt {
	return models.ExtractionAttempt{
		Provider:  kind,
		Outcome:   models.OutcomeEmpty,
		ErrorKind: models.ErrKindParse,
	}
}

func alwaysRespond(attempt models.ExtractionAttempt) func(int) models.ExtractionAttempt {
	return func(int) models.ExtractionAttempt { return attempt }
}

func seedProfile(cache analyzer.ProfileCache, domain string, ranked ...models.ProviderKind) {
	cache.Add(domain, &models.SiteProfile{
		Domain:              domain,
		SiteType:            models.SiteStatic,
		EcommerceConfidence: 0.8,
		RankedProviders:     ranked,
		AnalyzedAt:          time.Now().UTC(),
	})
}

func newTestEngine(providers []provider.Provider, cache analyzer.ProfileCache, retryBudget int) *Engine {
	cfg := config.DefaultConfig()
	cfg.Workers = 4
	cfg.DomainDelay = 0
	cfg.BaseTimeout = time.Second
	return New(cfg, Options{
		Analyzer:   analyzer.New(analyzer.Options{Cache: cache}),
		Planner:    planner.New(nil, time.Second, retryBudget),
		Providers:  providers,
		Limiter:    ratelimit.New(0, nil),
		Normalizer: normalize.New(1, 500_000_000, "USD"),
		Metrics:    NewMetrics(),
	})
}

func TestScrapePrimarySucceedsWithoutFallback(t *testing.T) {
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(successAttempt(models.ProviderHTTP, 12))}
	browserFake := &fakeProvider{kind: models.ProviderBrowser, respond: alwaysRespond(successAttempt(models.ProviderBrowser, 5))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "shop.example.test", models.ProviderHTTP, models.ProviderBrowser)
	e := newTestEngine([]provider.Provider{httpFake, browserFake}, cache, 3)

	result := e.Scrape(context.Background(), models.Target{
		URL:    "http://shop.example.test/catalog",
		Domain: "shop.example.test",
	})

	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.ToolUsed != models.ProviderHTTP {
		t.Fatalf("tool used = %v, want http", result.ToolUsed)
	}
	if result.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", result.RetryCount)
	}
	if len(result.Listings) != 12 {
		t.Fatalf("listings = %d, want 12", len(result.Listings))
	}
	if len(result.AggregatedErrors) != 0 {
		t.Fatalf("aggregated errors = %v, want none", result.AggregatedErrors)
	}
	if browserFake.callCount() != 0 {
		t.Fatal("fallback provider must not run after a primary success")
	}
}

func TestScrapeFallsBackAfterPrimaryFailure(t *testing.T) {
	apiFake := &fakeProvider{kind: models.ProviderAPI, respond: alwaysRespond(failedAttempt(models.ProviderAPI, models.ErrKindTimeout))}
	browserFake := &fakeProvider{kind: models.ProviderBrowser, respond: alwaysRespond(successAttempt(models.ProviderBrowser, 7))}
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(successAttempt(models.ProviderHTTP, 3))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "spa.example.test", models.ProviderAPI, models.ProviderBrowser, models.ProviderHTTP)
	e := newTestEngine([]provider.Provider{apiFake, browserFake, httpFake}, cache, 3)

	result := e.Scrape(context.Background(), models.Target{
		URL:    "http://spa.example.test/",
		Domain: "spa.example.test",
	})

	if !result.Success || result.ToolUsed != models.ProviderBrowser {
		t.Fatalf("tool used = %v success = %v, want browser success", result.ToolUsed, result.Success)
	}
	if result.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", result.RetryCount)
	}
	if len(result.AggregatedErrors) != 1 || result.AggregatedErrors[0] != models.ErrKindTimeout {
		t.Fatalf("aggregated errors = %v, want [provider_timeout]", result.AggregatedErrors)
	}
	if httpFake.callCount() != 0 {
		t.Fatal("chain must stop at the first success")
	}
}

func TestScrapeEmptyOutcomeAdvancesChain(t *testing.T) {
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(emptyAttempt(models.ProviderHTTP))}
	browserFake := &fakeProvider{kind: models.ProviderBrowser, respond: alwaysRespond(successAttempt(models.ProviderBrowser, 4))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "quiet.example.test", models.ProviderHTTP, models.ProviderBrowser)
	e := newTestEngine([]provider.Provider{httpFake, browserFake}, cache, 3)

	result := e.Scrape(context.Background(), models.Target{
		URL:    "http://quiet.example.test/",
		Domain: "quiet.example.test",
	})

	if !result.Success || result.ToolUsed != models.ProviderBrowser {
		t.Fatalf("tool used = %v success = %v, want browser success after empty", result.ToolUsed, result.Success)
	}
	if len(result.AggregatedErrors) != 1 || result.AggregatedErrors[0] != models.ErrKindParse {
		t.Fatalf("aggregated errors = %v, want [parse_failure] from the empty attempt", result.AggregatedErrors)
	}
}

func TestScrapeAllProvidersFail(t *testing.T) {
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(failedAttempt(models.ProviderHTTP, models.ErrKindBlocked))}
	browserFake := &fakeProvider{kind: models.ProviderBrowser, respond: alwaysRespond(failedAttempt(models.ProviderBrowser, models.ErrKindTimeout))}
	apiFake := &fakeProvider{kind: models.ProviderAPI, respond: alwaysRespond(failedAttempt(models.ProviderAPI, models.ErrKindNotFound))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "hostile.example.test", models.ProviderHTTP, models.ProviderBrowser, models.ProviderAPI)
	e := newTestEngine([]provider.Provider{httpFake, browserFake, apiFake}, cache, 3)

	result := e.Scrape(context.Background(), models.Target{
		URL:    "http://hostile.example.test/",
		Domain: "hostile.example.test",
	})

	if result.Success {
		t.Fatal("result should not be success when every provider fails")
	}
	if len(result.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(result.Attempts))
	}
	// One aggregated error per attempted provider, in attempt order.
	want := []models.ErrorKind{models.ErrKindBlocked, models.ErrKindTimeout, models.ErrKindNotFound}
	if len(result.AggregatedErrors) != len(want) {
		t.Fatalf("aggregated errors = %v, want %v", result.AggregatedErrors, want)
	}
	for i, kind := range want {
		if result.AggregatedErrors[i] != kind {
			t.Fatalf("aggregated errors = %v, want %v", result.AggregatedErrors, want)
		}
	}
	if result.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", result.RetryCount)
	}
	if len(result.Listings) != 0 {
		t.Fatal("failed result must carry no listings")
	}
}

func TestScrapeRespectsRetryBudget(t *testing.T) {
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(failedAttempt(models.ProviderHTTP, models.ErrKindTimeout))}
	browserFake := &fakeProvider{kind: models.ProviderBrowser, respond: alwaysRespond(failedAttempt(models.ProviderBrowser, models.ErrKindTimeout))}
	apiFake := &fakeProvider{kind: models.ProviderAPI, respond: alwaysRespond(successAttempt(models.ProviderAPI, 9))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "slow.example.test", models.ProviderHTTP, models.ProviderBrowser, models.ProviderAPI)
	e := newTestEngine([]provider.Provider{httpFake, browserFake, apiFake}, cache, 2)

	result := e.Scrape(context.Background(), models.Target{
		URL:    "http://slow.example.test/",
		Domain: "slow.example.test",
	})

	if result.Success {
		t.Fatal("budget of 2 must stop the chain before the third provider")
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(result.Attempts))
	}
	if apiFake.callCount() != 0 {
		t.Fatal("provider beyond the retry budget must not run")
	}
}

func TestScrapeBlockedElevatesDomainTier(t *testing.T) {
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(failedAttempt(models.ProviderHTTP, models.ErrKindBlocked))}
	browserFake := &fakeProvider{kind: models.ProviderBrowser, respond: alwaysRespond(successAttempt(models.ProviderBrowser, 2))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "blocked.example.test", models.ProviderHTTP, models.ProviderBrowser)
	e := newTestEngine([]provider.Provider{httpFake, browserFake}, cache, 3)

	target := models.Target{URL: "http://blocked.example.test/", Domain: "blocked.example.test"}
	e.Scrape(context.Background(), target)

	if tier := e.elevatedTier("blocked.example.test"); tier != 1 {
		t.Fatalf("elevated tier = %d after a blocked attempt, want 1", tier)
	}

	// The elevated tier reshapes the next plan: browser-first and stealth.
	e.Scrape(context.Background(), target)
	if httpFake.callCount() != 1 {
		t.Fatalf("http calls = %d, want 1 (browser should lead the second scrape)", httpFake.callCount())
	}
	if browserFake.callCount() != 2 {
		t.Fatalf("browser calls = %d, want 2", browserFake.callCount())
	}
}

func TestScrapeBlindPlanAfterAnalysisFailure(t *testing.T) {
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(successAttempt(models.ProviderHTTP, 6))}

	// Port 1 refuses connections immediately, so analysis comes back
	// insufficient and planning falls back to the default chain.
	e := newTestEngine([]provider.Provider{httpFake}, analyzer.NewMemoryCache(16, time.Hour), 3)

	result := e.Scrape(context.Background(), models.Target{
		URL:    "http://127.0.0.1:1/shop",
		Domain: "127.0.0.1",
	})

	if !result.Success {
		t.Fatalf("extraction should still succeed on a blind plan, got %+v", result)
	}
	if len(result.AggregatedErrors) == 0 || result.AggregatedErrors[0] != models.ErrKindAnalysis {
		t.Fatalf("aggregated errors = %v, want analysis_failure recorded first", result.AggregatedErrors)
	}
}

func TestScrapeDropsUnparsableItems(t *testing.T) {
	mixed := models.ExtractionAttempt{
		Provider: models.ProviderHTTP,
		Outcome:  models.OutcomeSuccess,
		Items: []models.RawItem{
			{Title: "Good Item", Price: "$12.00"},
			{Title: "No Price Item", Price: "call for price"},
			{Title: "", Price: "$9.00"},
		},
		RawItemCount: 3,
	}
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(mixed)}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "mixed.example.test", models.ProviderHTTP)
	e := newTestEngine([]provider.Provider{httpFake}, cache, 3)

	result := e.Scrape(context.Background(), models.Target{
		URL:    "http://mixed.example.test/",
		Domain: "mixed.example.test",
	})

	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if len(result.Listings) != 1 {
		t.Fatalf("listings = %d, want 1 after rejecting unparsable items", len(result.Listings))
	}
	if result.Listings[0].Title != "Good Item" {
		t.Fatalf("surviving listing = %q", result.Listings[0].Title)
	}
}

func TestRunSerializesPerDomain(t *testing.T) {
	httpFake := &fakeProvider{
		kind:    models.ProviderHTTP,
		respond: alwaysRespond(successAttempt(models.ProviderHTTP, 1)),
		delay:   20 * time.Millisecond,
	}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "serial.example.test", models.ProviderHTTP)
	e := newTestEngine([]provider.Provider{httpFake}, cache, 3)

	targets := []models.Target{
		{URL: "http://serial.example.test/a", Domain: "serial.example.test"},
		{URL: "http://serial.example.test/b", Domain: "serial.example.test"},
		{URL: "http://serial.example.test/c", Domain: "serial.example.test"},
	}
	results := e.Run(context.Background(), targets)

	if len(results) != len(targets) {
		t.Fatalf("results = %d, want %d", len(results), len(targets))
	}
	for i, result := range results {
		if result == nil || !result.Success {
			t.Fatalf("result %d = %+v, want success", i, result)
		}
	}
	if max := atomic.LoadInt32(&httpFake.maxSeen); max > 1 {
		t.Fatalf("max concurrent attempts for one domain = %d, want 1", max)
	}
}

func TestRunCanceledContext(t *testing.T) {
	httpFake := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(successAttempt(models.ProviderHTTP, 1))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "late.example.test", models.ProviderHTTP)
	e := newTestEngine([]provider.Provider{httpFake}, cache, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	targets := []models.Target{
		{URL: "http://late.example.test/a", Domain: "late.example.test"},
		{URL: "http://late.example.test/b", Domain: "late.example.test"},
	}
	results := e.Run(ctx, targets)

	if len(results) != len(targets) {
		t.Fatalf("results = %d, want one per target even when canceled", len(results))
	}
	for i, result := range results {
		if result == nil {
			t.Fatalf("result %d is nil", i)
		}
		if result.Success {
			t.Fatalf("result %d succeeded under a canceled context", i)
		}
	}
}

func TestStatsTrackOutcomes(t *testing.T) {
	call := 0
	flaky := &fakeProvider{kind: models.ProviderHTTP, respond: func(int) models.ExtractionAttempt {
		call++
		if call == 1 {
			return successAttempt(models.ProviderHTTP, 10)
		}
		return failedAttempt(models.ProviderHTTP, models.ErrKindTimeout)
	}}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "flaky.example.test", models.ProviderHTTP)
	e := newTestEngine([]provider.Provider{flaky}, cache, 3)

	target := models.Target{URL: "http://flaky.example.test/", Domain: "flaky.example.test"}

	e.Scrape(context.Background(), target)
	stats, ok := e.Stats("flaky.example.test")
	if !ok {
		t.Fatal("stats should exist after the first scrape")
	}
	if stats.SuccessRate != 1.0 || stats.SampleCount != 1 {
		t.Fatalf("stats after success = %+v", stats)
	}
	if stats.BestProvider != models.ProviderHTTP {
		t.Fatalf("best provider = %v, want http", stats.BestProvider)
	}

	e.Scrape(context.Background(), target)
	stats, _ = e.Stats("flaky.example.test")
	// EWMA with alpha 0.3: 0.3*0 + 0.7*1.0.
	if stats.SuccessRate < 0.69 || stats.SuccessRate > 0.71 {
		t.Fatalf("success rate = %v, want 0.7", stats.SuccessRate)
	}
	if stats.FailureStreak != 1 {
		t.Fatalf("failure streak = %d, want 1", stats.FailureStreak)
	}
}

func TestAllStatsCoversEveryObservedDomain(t *testing.T) {
	steady := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(successAttempt(models.ProviderHTTP, 4))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "alpha.example.test", models.ProviderHTTP)
	seedProfile(cache, "beta.example.test", models.ProviderHTTP)
	e := newTestEngine([]provider.Provider{steady}, cache, 3)

	e.Scrape(context.Background(), models.Target{URL: "http://alpha.example.test/", Domain: "alpha.example.test"})
	e.Scrape(context.Background(), models.Target{URL: "http://beta.example.test/", Domain: "beta.example.test"})

	all := e.AllStats()
	if len(all) != 2 {
		t.Fatalf("AllStats returned %d entries, want 2", len(all))
	}
	seen := make(map[string]bool, len(all))
	for _, s := range all {
		seen[s.Domain] = true
		if s.SampleCount != 1 {
			t.Fatalf("%s sample count = %d, want 1", s.Domain, s.SampleCount)
		}
	}
	if !seen["alpha.example.test"] || !seen["beta.example.test"] {
		t.Fatalf("AllStats missing a domain: %v", seen)
	}
}

func TestRepeatedFailuresInvalidateProfile(t *testing.T) {
	failing := &fakeProvider{kind: models.ProviderHTTP, respond: alwaysRespond(failedAttempt(models.ProviderHTTP, models.ErrKindTimeout))}

	cache := analyzer.NewMemoryCache(16, time.Hour)
	seedProfile(cache, "dying.example.test", models.ProviderHTTP)
	e := newTestEngine([]provider.Provider{failing}, cache, 2)

	target := models.Target{URL: "http://dying.example.test/", Domain: "dying.example.test"}
	for i := 0; i < 3; i++ {
		if _, ok := cache.Get("dying.example.test"); !ok {
			t.Fatalf("profile evicted too early, after %d failures", i)
		}
		e.Scrape(context.Background(), target)
	}

	if _, ok := cache.Get("dying.example.test"); ok {
		t.Fatal("three consecutive failures should invalidate the cached profile")
	}
}

func TestSummarize(t *testing.T) {
	results := []*models.ScrapeResult{
		{Domain: "a.example.test", Success: true, ToolUsed: models.ProviderHTTP, Listings: []*models.Listing{{}, {}}, RetryCount: 0},
		{Domain: "b.example.test", Success: true, ToolUsed: models.ProviderBrowser, Listings: []*models.Listing{{}}, RetryCount: 1,
			AggregatedErrors: []models.ErrorKind{models.ErrKindTimeout}},
		{Domain: "c.example.test", Success: false, RetryCount: 2,
			AggregatedErrors: []models.ErrorKind{models.ErrKindBlocked, models.ErrKindBlocked, models.ErrKindTimeout}},
	}

	summary := Summarize(results, 42*time.Second)

	if summary.Targets != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("summary counts = %+v", summary)
	}
	if summary.TotalListings != 3 {
		t.Fatalf("total listings = %d, want 3", summary.TotalListings)
	}
	if summary.TotalRetries != 3 {
		t.Fatalf("total retries = %d, want 3", summary.TotalRetries)
	}
	if summary.ErrorsByKind[models.ErrKindBlocked] != 2 || summary.ErrorsByKind[models.ErrKindTimeout] != 2 {
		t.Fatalf("errors by kind = %v", summary.ErrorsByKind)
	}
	if summary.Elapsed != 42*time.Second {
		t.Fatalf("elapsed = %v", summary.Elapsed)
	}
}
