package analyzer

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pricewatch/harvester/models"
)

// ProfileCache stores site profiles per domain with a TTL. The in-memory
// implementation below is the default; a shared store (e.g. Redis) can be
// substituted so several engine processes reuse each other's analysis.
type ProfileCache interface {
	Get(domain string) (*models.SiteProfile, bool)
	Add(domain string, profile *models.SiteProfile)
	Remove(domain string)
}

type memoryCache struct {
	lru *expirable.LRU[string, *models.SiteProfile]
}

// NewMemoryCache builds a size-bounded, TTL-evicting profile cache.
func NewMemoryCache(size int, ttl time.Duration) ProfileCache {
	return &memoryCache{
		lru: expirable.NewLRU[string, *models.SiteProfile](size, nil, ttl),
	}
}

func (c *memoryCache) Get(domain string) (*models.SiteProfile, bool) {
	return c.lru.Get(domain)
}

func (c *memoryCache) Add(domain string, profile *models.SiteProfile) {
	c.lru.Add(domain, profile)
}

func (c *memoryCache) Remove(domain string) {
	c.lru.Remove(domain)
}
