package engine

import (
	"time"

	"github.com/pricewatch/harvester/models"
	"github.com/pricewatch/harvester/store"
)

// ewmaAlpha weighs new observations in the moving averages. Higher means
// the engine adapts faster to a site changing behavior.
const ewmaAlpha = 0.3

// invalidateAfterFailures is the failure streak that forces reanalysis of
// a domain's cached profile.
const invalidateAfterFailures = 3

// statsKeeper maintains DomainPerformanceStats. The engine serializes all
// work per domain, so a read-modify-write per result cannot race for one
// domain.
type statsKeeper struct {
	store store.StatsStore
}

func newStatsKeeper(s store.StatsStore) *statsKeeper {
	if s == nil {
		s = store.NewMemoryStats()
	}
	return &statsKeeper{store: s}
}

// record folds one terminal result into the domain's stats and reports
// whether the failure streak crossed the reanalysis threshold.
func (k *statsKeeper) record(result *models.ScrapeResult) (invalidate bool) {
	stats, ok := k.store.Get(result.Domain)
	if !ok {
		stats = models.DomainPerformanceStats{
			Domain:       result.Domain,
			ItemAverages: make(map[models.ProviderKind]float64),
		}
	}
	if stats.ItemAverages == nil {
		stats.ItemAverages = make(map[models.ProviderKind]float64)
	}

	outcome := 0.0
	if result.Success {
		outcome = 1.0
	}
	latency := result.EndTime.Sub(result.StartTime)

	if stats.SampleCount == 0 {
		stats.SuccessRate = outcome
		stats.AvgLatency = latency
	} else {
		stats.SuccessRate = ewmaAlpha*outcome + (1-ewmaAlpha)*stats.SuccessRate
		stats.AvgLatency = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(stats.AvgLatency))
	}
	stats.SampleCount++
	stats.LastObserved = time.Now().UTC()

	if result.Success {
		stats.FailureStreak = 0
		items := float64(len(result.Listings))
		if prev, seen := stats.ItemAverages[result.ToolUsed]; seen {
			stats.ItemAverages[result.ToolUsed] = ewmaAlpha*items + (1-ewmaAlpha)*prev
		} else {
			stats.ItemAverages[result.ToolUsed] = items
		}
		// The succeeding tool takes the lead when its item count beats
		// the current leader's running average.
		if stats.BestProvider == "" || items > stats.ItemAverages[stats.BestProvider] {
			stats.BestProvider = result.ToolUsed
		}
	} else {
		stats.FailureStreak++
		if stats.FailureStreak >= invalidateAfterFailures {
			stats.FailureStreak = 0
			invalidate = true
		}
	}

	k.store.Put(stats)
	return invalidate
}

// get exposes a domain's stats for reporting.
func (k *statsKeeper) get(domain string) (models.DomainPerformanceStats, bool) {
	return k.store.Get(domain)
}

// snapshot returns all stats for the end-of-run summary.
func (k *statsKeeper) snapshot() []models.DomainPerformanceStats {
	return k.store.Snapshot()
}
