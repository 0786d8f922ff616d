// Package planner turns a site profile plus curated per-domain overrides
// into an ordered execution plan for the extraction providers.
package planner

import (
	"time"

	"github.com/pricewatch/harvester/config"
	"github.com/pricewatch/harvester/models"
)

// Planner derives strategies. It holds no mutable state; a strategy is
// recomputed for every call from the profile and the override table.
type Planner struct {
	overrides   config.OverrideTable
	baseTimeout time.Duration
	retryBudget int
}

// New builds a planner. baseTimeout and retryBudget are the defaults used
// when neither the profile nor an override demands escalation.
func New(overrides config.OverrideTable, baseTimeout time.Duration, retryBudget int) *Planner {
	if baseTimeout <= 0 {
		baseTimeout = 30 * time.Second
	}
	if retryBudget <= 0 {
		retryBudget = 3
	}
	return &Planner{
		overrides:   overrides,
		baseTimeout: baseTimeout,
		retryBudget: retryBudget,
	}
}

// Plan combines the analyzer's ranking with any per-domain override into
// a Strategy. Overrides win: an operator-curated provider order and
// selector set replace the inferred ones outright. The elevatedTier
// argument carries live feedback from the engine (a domain that blocked
// us mid-attempt is planned more defensively next time).
func (p *Planner) Plan(domain string, profile *models.SiteProfile, elevatedTier int) models.Strategy {
	override, hasOverride := p.overrides.Lookup(domain)

	tier := elevatedTier
	if hasOverride && override.DefensiveTier > tier {
		tier = override.DefensiveTier
	}

	ranked := profile.RankedProviders
	if hasOverride && len(override.PreferredOrder) > 0 {
		ranked = override.PreferredOrder
	}
	if len(ranked) == 0 {
		ranked = []models.ProviderKind{models.ProviderHTTP, models.ProviderBrowser, models.ProviderAPI}
	}

	hostile := tier > 0 ||
		profile.HasDefense(models.DefenseCaptcha) ||
		profile.HasDefense(models.DefenseCDNChallenge)
	if hostile {
		// Blocked and CAPTCHA-gated sites get the stealth browser as
		// primary regardless of the static ranking.
		ranked = promote(ranked, models.ProviderBrowser)
	}

	strategy := models.Strategy{
		Primary:      ranked[0],
		Fallbacks:    dedupeFallbacks(ranked),
		Timeout:      p.timeout(profile, hostile),
		RetryBudget:  p.budget(tier),
		Stealth:      hostile,
		Selectors:    profile.Selectors,
		APIEndpoints: profile.ScriptEndpoints,
	}
	if hasOverride && !override.CustomSelectors.Empty() {
		strategy.Selectors = override.CustomSelectors
	}
	return strategy
}

// timeout scales with detected defenses: 30s baseline, +30s when heavy
// client rendering or a CDN challenge is in play, and at least 60s for
// hostile targets driven through the stealth browser.
func (p *Planner) timeout(profile *models.SiteProfile, hostile bool) time.Duration {
	timeout := p.baseTimeout
	if profile.HasDefense(models.DefenseHeavyJS) || profile.HasDefense(models.DefenseCDNChallenge) {
		timeout += 30 * time.Second
	}
	if hostile && timeout < 60*time.Second {
		timeout = 60 * time.Second
	}
	return timeout
}

// budget maps the defensive tier onto a retry budget: default for benign
// domains, one extra attempt per tier, capped at 4.
func (p *Planner) budget(tier int) int {
	budget := p.retryBudget
	if budget < 2 {
		budget = 2
	}
	budget += tier
	if budget > 4 {
		budget = 4
	}
	return budget
}

// promote moves kind to the front of ranked, preserving the rest of the
// order.
func promote(ranked []models.ProviderKind, kind models.ProviderKind) []models.ProviderKind {
	out := []models.ProviderKind{kind}
	for _, k := range ranked {
		if k != kind {
			out = append(out, k)
		}
	}
	return out
}

// dedupeFallbacks builds the fallback list: the ranking minus the
// primary, order preserved, without duplicates.
func dedupeFallbacks(ranked []models.ProviderKind) []models.ProviderKind {
	seen := map[models.ProviderKind]struct{}{ranked[0]: {}}
	var fallbacks []models.ProviderKind
	for _, kind := range ranked[1:] {
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		fallbacks = append(fallbacks, kind)
	}
	return fallbacks
}
