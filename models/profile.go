package models

import "time"

// SelectorSet holds the CSS selectors used to pull listing fields out of a
// page. Container scopes the item iteration; the rest are resolved relative
// to it.
type SelectorSet struct {
	Container    string `yaml:"container" json:"container"`
	Title        string `yaml:"title" json:"title"`
	Price        string `yaml:"price" json:"price"`
	Availability string `yaml:"availability" json:"availability"`
	Link         string `yaml:"link" json:"link"`
	Image        string `yaml:"image" json:"image"`
}

// Empty reports whether no container selector was inferred or configured.
func (s SelectorSet) Empty() bool {
	return s.Container == ""
}

// SiteProfile is the analyzer's cached classification of a domain.
// Written only by the analyzer; read by the planner.
type SiteProfile struct {
	Domain              string             `json:"domain"`
	SiteType            SiteType           `json:"site_type"`
	EcommerceConfidence float64            `json:"ecommerce_confidence"`
	Selectors           SelectorSet        `json:"selectors"`
	DefensiveMeasures   []DefensiveMeasure `json:"defensive_measures"`
	RankedProviders     []ProviderKind     `json:"ranked_providers"`
	// ScriptEndpoints are API paths observed in inline scripts during
	// analysis, probed later by the API discovery provider.
	ScriptEndpoints []string `json:"script_endpoints,omitempty"`
	// Insufficient marks a profile produced from an unreachable or
	// unclassifiable target. No confidence is fabricated for these.
	Insufficient bool      `json:"insufficient,omitempty"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

// HasDefense reports whether the profile flagged the given measure.
func (p *SiteProfile) HasDefense(m DefensiveMeasure) bool {
	for _, d := range p.DefensiveMeasures {
		if d == m {
			return true
		}
	}
	return false
}

// Strategy is the ordered, time-boxed execution plan for one target.
// Derived per call from the SiteProfile and the override table, never
// persisted. Fallbacks exclude Primary and contain no duplicates.
type Strategy struct {
	Primary     ProviderKind
	Fallbacks   []ProviderKind
	Timeout     time.Duration
	RetryBudget int
	Stealth     bool
	Selectors   SelectorSet
	// APIEndpoints are candidate API paths observed during analysis,
	// probed by the API discovery provider ahead of the conventional
	// ones.
	APIEndpoints []string
}

// Chain returns the primary followed by the fallbacks.
func (s Strategy) Chain() []ProviderKind {
	chain := make([]ProviderKind, 0, 1+len(s.Fallbacks))
	chain = append(chain, s.Primary)
	chain = append(chain, s.Fallbacks...)
	return chain
}

// DomainPerformanceStats tracks the adaptive per-domain feedback loop.
// SuccessRate and AvgLatency are exponentially weighted moving averages;
// BestProvider is the tool whose succeeding attempts yield the most items.
type DomainPerformanceStats struct {
	Domain       string        `json:"domain"`
	SuccessRate  float64       `json:"success_rate"`
	AvgLatency   time.Duration `json:"avg_latency"`
	BestProvider ProviderKind  `json:"best_provider,omitempty"`
	// ItemAverages holds the running mean item count per succeeding
	// provider, backing the BestProvider election.
	ItemAverages  map[ProviderKind]float64 `json:"item_averages,omitempty"`
	SampleCount   int                      `json:"sample_count"`
	FailureStreak int                      `json:"failure_streak"`
	LastObserved  time.Time                `json:"last_observed"`
}
