package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pricewatch/harvester/models"
)

const redisOpTimeout = 3 * time.Second

// Redis backs both the profile cache and the stats store with a shared
// Redis instance, so multiple engine processes reuse each other's
// analysis and adaptive feedback. Backend errors degrade to cache misses
// rather than failing the scrape.
type Redis struct {
	client     *redis.Client
	prefix     string
	profileTTL time.Duration
}

// NewRedis connects and pings the backend.
func NewRedis(url, prefix string, profileTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Redis{
		client:     client,
		prefix:     prefix,
		profileTTL: profileTTL,
	}, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(kind, domain string) string {
	if r.prefix == "" {
		return kind + ":" + domain
	}
	return r.prefix + ":" + kind + ":" + domain
}

// Get implements analyzer.ProfileCache.
func (r *Redis) Get(domain string) (*models.SiteProfile, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key("profile", domain)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("redis profile read failed", slog.String("domain", domain), slog.Any("error", err))
		}
		return nil, false
	}
	var profile models.SiteProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, false
	}
	return &profile, true
}

// Add implements analyzer.ProfileCache.
func (r *Redis) Add(domain string, profile *models.SiteProfile) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.key("profile", domain), data, r.profileTTL).Err(); err != nil {
		slog.Warn("redis profile write failed", slog.String("domain", domain), slog.Any("error", err))
	}
}

// Remove implements analyzer.ProfileCache.
func (r *Redis) Remove(domain string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = r.client.Del(ctx, r.key("profile", domain)).Err()
}

// GetStats implements part of StatsStore via RedisStats.
func (r *Redis) getStats(domain string) (models.DomainPerformanceStats, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key("stats", domain)).Bytes()
	if err != nil {
		return models.DomainPerformanceStats{}, false
	}
	var stats models.DomainPerformanceStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return models.DomainPerformanceStats{}, false
	}
	return stats, true
}

func (r *Redis) putStats(stats models.DomainPerformanceStats) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	// Stats are long-lived; no TTL.
	if err := r.client.Set(ctx, r.key("stats", stats.Domain), data, 0).Err(); err != nil {
		slog.Warn("redis stats write failed", slog.String("domain", stats.Domain), slog.Any("error", err))
	}
}

// RedisStats adapts Redis to the StatsStore interface, keeping a local
// write-through copy so Snapshot never needs a key scan.
type RedisStats struct {
	backend *Redis
	local   *MemoryStats
}

// NewRedisStats wraps a Redis connection as a StatsStore.
func NewRedisStats(backend *Redis) *RedisStats {
	return &RedisStats{
		backend: backend,
		local:   NewMemoryStats(),
	}
}

// Get prefers the local copy and falls through to Redis for entries
// written by other processes.
func (s *RedisStats) Get(domain string) (models.DomainPerformanceStats, bool) {
	if stats, ok := s.local.Get(domain); ok {
		return stats, true
	}
	stats, ok := s.backend.getStats(domain)
	if ok {
		s.local.Put(stats)
	}
	return stats, ok
}

// Put writes through to both stores.
func (s *RedisStats) Put(stats models.DomainPerformanceStats) {
	s.local.Put(stats)
	s.backend.putStats(stats)
}

// Snapshot returns the entries this process has touched.
func (s *RedisStats) Snapshot() []models.DomainPerformanceStats {
	return s.local.Snapshot()
}
