// Package store persists the engine's adaptive per-domain state. Any
// key-value backend satisfies the contracts; the in-memory implementation
// is the default and a Redis implementation lets several engine processes
// share profiles and stats.
package store

import (
	"sync"

	"github.com/pricewatch/harvester/models"
)

// StatsStore holds DomainPerformanceStats keyed by domain. Updates are
// confined to one domain's entry; implementations must allow concurrent
// access to distinct domains without global contention.
type StatsStore interface {
	Get(domain string) (models.DomainPerformanceStats, bool)
	Put(stats models.DomainPerformanceStats)
	Snapshot() []models.DomainPerformanceStats
}

// MemoryStats is the in-process StatsStore.
type MemoryStats struct {
	mu    sync.RWMutex
	stats map[string]models.DomainPerformanceStats
}

// NewMemoryStats builds an empty in-memory store.
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{stats: make(map[string]models.DomainPerformanceStats)}
}

// Get returns the stats entry for a domain.
func (m *MemoryStats) Get(domain string) (models.DomainPerformanceStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[domain]
	return s, ok
}

// Put stores a domain's stats entry.
func (m *MemoryStats) Put(stats models.DomainPerformanceStats) {
	m.mu.Lock()
	m.stats[stats.Domain] = stats
	m.mu.Unlock()
}

// Snapshot returns a copy of every entry.
func (m *MemoryStats) Snapshot() []models.DomainPerformanceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DomainPerformanceStats, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, s)
	}
	return out
}
