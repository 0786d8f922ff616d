package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds engine configuration.
type Config struct {
	Workers            int
	BrowserPoolSize    int
	BrowserBin         string
	Headless           bool
	DomainDelay        time.Duration
	BaseTimeout        time.Duration
	RetryBudget        int
	ProfileTTL         time.Duration
	ProfileCacheSize   int
	MaxScrolls         int
	PriceMinMinorUnits int64
	PriceMaxMinorUnits int64
	DefaultCurrency    string
	OutputFile         string
	OutputFormat       string // csv, json, or dual
	OverridesFile      string
	MetricsAddr        string
	RedisURL           string
	PostgresDSN        string
	PipelineBufferSize int
	BatchSize          int
	UserAgent          string
	Verbose            bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:            8,
		BrowserPoolSize:    2,
		Headless:           true,
		DomainDelay:        2 * time.Second,
		BaseTimeout:        30 * time.Second,
		RetryBudget:        3,
		ProfileTTL:         24 * time.Hour,
		ProfileCacheSize:   1024,
		MaxScrolls:         4,
		PriceMinMinorUnits: 1,
		PriceMaxMinorUnits: 500_000_000,
		DefaultCurrency:    "USD",
		OutputFile:         "output/listings.csv",
		OutputFormat:       "csv",
		PipelineBufferSize: 512,
		BatchSize:          64,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.BrowserPoolSize <= 0 {
		return fmt.Errorf("browser pool size must be positive")
	}
	if c.DomainDelay < 0 {
		return fmt.Errorf("domain delay cannot be negative")
	}
	if c.BaseTimeout <= 0 {
		return fmt.Errorf("base timeout must be positive")
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("retry budget cannot be negative")
	}
	if c.ProfileTTL <= 0 {
		return fmt.Errorf("profile TTL must be positive")
	}
	if c.ProfileCacheSize <= 0 {
		return fmt.Errorf("profile cache size must be positive")
	}
	if c.MaxScrolls < 0 {
		return fmt.Errorf("max scrolls cannot be negative")
	}
	if c.PriceMinMinorUnits < 0 {
		return fmt.Errorf("price minimum cannot be negative")
	}
	if c.PriceMaxMinorUnits <= c.PriceMinMinorUnits {
		return fmt.Errorf("price maximum (%d) must exceed minimum (%d)", c.PriceMaxMinorUnits, c.PriceMinMinorUnits)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

// EnvInt reads an integer environment variable. The second return reports
// whether the variable was set.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return value, true, nil
}

// EnvString reads a string environment variable.
func EnvString(name string) (string, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
