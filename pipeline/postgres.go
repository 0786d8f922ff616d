package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pricewatch/harvester/models"
)

const createListingsTable = `
CREATE TABLE IF NOT EXISTS harvested_listings (
	url                  text PRIMARY KEY,
	title                text NOT NULL,
	title_localized      text,
	price_minor_units    bigint NOT NULL,
	currency             text NOT NULL,
	vendor_domain        text NOT NULL,
	available            boolean NOT NULL,
	availability_assumed boolean NOT NULL,
	image_url            text,
	scraped_at           timestamptz NOT NULL
)`

// PostgresWriter persists listings into a single table with batched
// inserts. Re-harvested URLs update price and availability in place.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter connects and ensures the target table exists.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(setupCtx, createListingsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create listings table: %w", err)
	}

	return &PostgresWriter{pool: pool}, nil
}

// Write upserts one batch of listings.
func (pw *PostgresWriter) Write(listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	count := 0
	for _, listing := range listings {
		if listing.URL == "" {
			continue
		}
		batch.Queue(
			`INSERT INTO harvested_listings
			 (url, title, title_localized, price_minor_units, currency,
			  vendor_domain, available, availability_assumed, image_url, scraped_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			 ON CONFLICT (url) DO UPDATE SET
			   price_minor_units = EXCLUDED.price_minor_units,
			   currency = EXCLUDED.currency,
			   available = EXCLUDED.available,
			   availability_assumed = EXCLUDED.availability_assumed,
			   scraped_at = EXCLUDED.scraped_at`,
			listing.URL, listing.Title, listing.TitleLocalized, listing.PriceMinorUnits,
			listing.Currency, listing.VendorDomain, listing.Available,
			listing.AvailabilityAssumed, listing.ImageURL, listing.ScrapedAt,
		)
		count++
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := pw.pool.SendBatch(ctx, batch)
	for i := 0; i < count; i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert listing batch: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close listing batch: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (pw *PostgresWriter) Close() error {
	pw.pool.Close()
	return nil
}

// Validate pings the backend.
func (pw *PostgresWriter) Validate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pw.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}
