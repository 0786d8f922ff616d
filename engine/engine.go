// Package engine drives the adaptive multi-strategy scraping loop: plan,
// attempt, cascade across fallback providers, aggregate, and feed the
// per-domain adaptive statistics.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pricewatch/harvester/analyzer"
	"github.com/pricewatch/harvester/config"
	"github.com/pricewatch/harvester/models"
	"github.com/pricewatch/harvester/normalize"
	"github.com/pricewatch/harvester/planner"
	"github.com/pricewatch/harvester/provider"
	"github.com/pricewatch/harvester/ratelimit"
	"github.com/pricewatch/harvester/store"
)

// Engine owns the orchestration loop. All collaborators are injected so
// tests can substitute fakes without spawning browsers or hitting the
// network.
type Engine struct {
	cfg        *config.Config
	analyzer   *analyzer.Analyzer
	planner    *planner.Planner
	providers  map[models.ProviderKind]provider.Provider
	limiter    *ratelimit.Limiter
	normalizer *normalize.Normalizer
	stats      *statsKeeper
	Metrics    *Metrics

	// domainLocks serializes extraction per domain: politeness, plus
	// profile and stats mutation for a domain must not race.
	domainLocks sync.Map // domain -> *sync.Mutex

	// elevatedTiers carries live ProviderBlocked feedback into future
	// planning for the domain.
	tiersMu       sync.Mutex
	elevatedTiers map[string]int
}

// Options wires an engine together.
type Options struct {
	Analyzer   *analyzer.Analyzer
	Planner    *planner.Planner
	Providers  []provider.Provider
	Limiter    *ratelimit.Limiter
	Normalizer *normalize.Normalizer
	Stats      store.StatsStore
	Metrics    *Metrics
}

// New builds an engine from explicit collaborators.
func New(cfg *config.Config, opts Options) *Engine {
	providers := make(map[models.ProviderKind]provider.Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Kind()] = p
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = normalize.New(cfg.PriceMinMinorUnits, cfg.PriceMaxMinorUnits, cfg.DefaultCurrency)
	}
	return &Engine{
		cfg:           cfg,
		analyzer:      opts.Analyzer,
		planner:       opts.Planner,
		providers:     providers,
		limiter:       opts.Limiter,
		normalizer:    normalizer,
		stats:         newStatsKeeper(opts.Stats),
		Metrics:       opts.Metrics,
		elevatedTiers: make(map[string]int),
	}
}

// Run processes targets on a bounded worker pool. Domains are fully
// independent; work for one domain is serialized by Scrape. The returned
// slice is ordered like the input.
func (e *Engine) Run(ctx context.Context, targets []models.Target) []*models.ScrapeResult {
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	results := make([]*models.ScrapeResult, len(targets))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.Scrape(ctx, targets[idx])
			}
		}()
	}

	for idx := range targets {
		select {
		case jobs <- idx:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	for idx, target := range targets {
		if results[idx] == nil {
			results[idx] = canceledResult(target)
		}
	}
	return results
}

// Scrape executes the full plan for one target and always returns a
// terminal result; a domain's total failure never propagates as an
// error.
func (e *Engine) Scrape(ctx context.Context, target models.Target) *models.ScrapeResult {
	lock := e.domainLock(target.Domain)
	lock.Lock()
	defer lock.Unlock()

	result := &models.ScrapeResult{
		Domain:    target.Domain,
		StartTime: time.Now(),
	}

	profile := e.analyzer.Analyze(ctx, target.URL)
	if profile.Insufficient {
		result.AggregatedErrors = append(result.AggregatedErrors, models.ErrKindAnalysis)
		slog.Debug("analysis insufficient, planning blind", slog.String("domain", target.Domain))
	}

	strategy := e.planner.Plan(target.Domain, profile, e.elevatedTier(target.Domain))

	// Top-level deadline for the whole fallback chain.
	deadline := strategy.Timeout * time.Duration(strategy.RetryBudget)
	chainCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	e.runChain(chainCtx, target, strategy, result)

	result.EndTime = time.Now()
	if len(result.Attempts) > 0 {
		result.RetryCount = len(result.Attempts) - 1
	}
	if !result.Success {
		// The error list keeps one entry per attempted provider; the
		// exhausted marker goes to metrics only.
		if m := e.Metrics; m != nil {
			m.ErrorsTotal.WithLabelValues(string(models.ErrKindExhausted)).Inc()
		}
	}

	if e.stats.record(result) {
		e.analyzer.Invalidate(target.Domain)
		slog.Info("profile invalidated after repeated failures", slog.String("domain", target.Domain))
	}
	e.Metrics.ObserveResult(result)
	e.logResult(result)
	return result
}

// runChain walks the fallback cascade. The first outcome with items wins
// immediately; Empty and Failed consume retry budget and advance.
func (e *Engine) runChain(ctx context.Context, target models.Target, strategy models.Strategy, result *models.ScrapeResult) {
	attemptsMade := 0
	for _, kind := range strategy.Chain() {
		if attemptsMade >= strategy.RetryBudget {
			break
		}
		if ctx.Err() != nil {
			result.AggregatedErrors = append(result.AggregatedErrors, models.ErrKindTimeout)
			return
		}

		prov, ok := e.providers[kind]
		if !ok {
			continue
		}

		if err := e.limiter.Wait(ctx, target.Domain); err != nil {
			result.AggregatedErrors = append(result.AggregatedErrors, models.ErrKindTimeout)
			return
		}

		attempt := prov.Attempt(ctx, target, strategy)
		attemptsMade++
		result.Attempts = append(result.Attempts, attempt)
		e.Metrics.ObserveAttempt(attempt)
		e.logAttempt(target.Domain, attempt)

		if attempt.ErrorKind == models.ErrKindBlocked {
			e.elevateTier(target.Domain)
		}

		if attempt.RawItemCount > 0 {
			result.Success = true
			result.ToolUsed = kind
			result.Listings = e.normalizeItems(attempt.Items, target)
			return
		}
		if attempt.ErrorKind != "" {
			result.AggregatedErrors = append(result.AggregatedErrors, attempt.ErrorKind)
		}
	}
}

func (e *Engine) normalizeItems(items []models.RawItem, target models.Target) []*models.Listing {
	listings := make([]*models.Listing, 0, len(items))
	for _, item := range items {
		listing, err := e.normalizer.Listing(item, target)
		if err != nil {
			slog.Debug("listing rejected",
				slog.String("domain", target.Domain),
				slog.Any("error", err),
			)
			continue
		}
		listings = append(listings, listing)
	}
	return listings
}

// Stats returns the adaptive stats for a domain.
func (e *Engine) Stats(domain string) (models.DomainPerformanceStats, bool) {
	return e.stats.get(domain)
}

// AllStats returns the adaptive stats for every observed domain.
func (e *Engine) AllStats() []models.DomainPerformanceStats {
	return e.stats.snapshot()
}

// Summarize folds a batch of results into the operator summary.
func Summarize(results []*models.ScrapeResult, elapsed time.Duration) models.BatchSummary {
	summary := models.BatchSummary{
		Targets:      len(results),
		ErrorsByKind: make(map[models.ErrorKind]int),
		Elapsed:      elapsed,
	}
	for _, result := range results {
		if result.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.TotalListings += len(result.Listings)
		summary.TotalRetries += result.RetryCount
		for _, kind := range result.AggregatedErrors {
			summary.ErrorsByKind[kind]++
		}
	}
	return summary
}

func (e *Engine) domainLock(domain string) *sync.Mutex {
	actual, _ := e.domainLocks.LoadOrStore(domain, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (e *Engine) elevatedTier(domain string) int {
	e.tiersMu.Lock()
	defer e.tiersMu.Unlock()
	return e.elevatedTiers[domain]
}

func (e *Engine) elevateTier(domain string) {
	e.tiersMu.Lock()
	defer e.tiersMu.Unlock()
	if e.elevatedTiers[domain] < 2 {
		e.elevatedTiers[domain]++
	}
}

func (e *Engine) logAttempt(domain string, attempt models.ExtractionAttempt) {
	slog.Info("extraction attempt",
		slog.String("domain", domain),
		slog.String("provider", string(attempt.Provider)),
		slog.String("outcome", string(attempt.Outcome)),
		slog.Int("items_found", attempt.RawItemCount),
		slog.Int64("duration_ms", attempt.Duration().Milliseconds()),
		slog.String("error_kind", string(attempt.ErrorKind)),
	)
}

func (e *Engine) logResult(result *models.ScrapeResult) {
	kinds := make([]string, 0, len(result.AggregatedErrors))
	for _, kind := range result.AggregatedErrors {
		kinds = append(kinds, string(kind))
	}
	slog.Info("scrape result",
		slog.String("domain", result.Domain),
		slog.Bool("success", result.Success),
		slog.Int64("duration_ms", result.EndTime.Sub(result.StartTime).Milliseconds()),
		slog.Int("items_found", len(result.Listings)),
		slog.String("tool_used", string(result.ToolUsed)),
		slog.Int("retry_count", result.RetryCount),
		slog.Any("error_kinds", kinds),
	)
}

func canceledResult(target models.Target) *models.ScrapeResult {
	now := time.Now()
	return &models.ScrapeResult{
		Domain:           target.Domain,
		StartTime:        now,
		EndTime:          now,
		AggregatedErrors: []models.ErrorKind{models.ErrKindTimeout},
	}
}
