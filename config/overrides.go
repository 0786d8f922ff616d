package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pricewatch/harvester/models"
)

// DomainOverride carries curated operational knowledge for one domain. An
// override takes precedence over whatever the analyzer inferred.
type DomainOverride struct {
	PreferredOrder  []models.ProviderKind `yaml:"preferred_order"`
	CustomSelectors models.SelectorSet    `yaml:"custom_selectors"`
	RateLimitWindow time.Duration         `yaml:"rate_limit_window"`
	// DefensiveTier escalates planning: 0 none, 1 elevated (stealth,
	// longer timeout), 2 hostile (stealth primary, max retry budget).
	DefensiveTier int `yaml:"defensive_tier"`
}

// UnmarshalYAML decodes an override, reading the rate limit window as a
// duration string ("5s", "1m30s").
func (o *DomainOverride) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PreferredOrder  []models.ProviderKind `yaml:"preferred_order"`
		CustomSelectors models.SelectorSet    `yaml:"custom_selectors"`
		RateLimitWindow string                `yaml:"rate_limit_window"`
		DefensiveTier   int                   `yaml:"defensive_tier"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	o.PreferredOrder = raw.PreferredOrder
	o.CustomSelectors = raw.CustomSelectors
	o.DefensiveTier = raw.DefensiveTier
	o.RateLimitWindow = 0
	if raw.RateLimitWindow != "" {
		window, err := time.ParseDuration(raw.RateLimitWindow)
		if err != nil {
			return fmt.Errorf("rate_limit_window: %w", err)
		}
		o.RateLimitWindow = window
	}
	return nil
}

// OverrideTable maps domain names to their overrides. Loaded once at
// startup and never mutated by the engine.
type OverrideTable map[string]DomainOverride

// Lookup returns the override for a domain, if any.
func (t OverrideTable) Lookup(domain string) (DomainOverride, bool) {
	if t == nil {
		return DomainOverride{}, false
	}
	o, ok := t[strings.ToLower(domain)]
	return o, ok
}

// LoadOverrides reads an override table from a YAML file. A missing path
// yields an empty table.
func LoadOverrides(path string) (OverrideTable, error) {
	if path == "" {
		return OverrideTable{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides file: %w", err)
	}

	var parsed struct {
		Domains map[string]DomainOverride `yaml:"domains"`
	}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse overrides file: %w", err)
	}

	table := make(OverrideTable, len(parsed.Domains))
	for domain, override := range parsed.Domains {
		if err := validateOverride(domain, override); err != nil {
			return nil, err
		}
		table[strings.ToLower(domain)] = override
	}
	return table, nil
}

func validateOverride(domain string, o DomainOverride) error {
	if domain == "" {
		return fmt.Errorf("override with empty domain")
	}
	seen := make(map[models.ProviderKind]struct{}, len(o.PreferredOrder))
	for _, kind := range o.PreferredOrder {
		switch kind {
		case models.ProviderHTTP, models.ProviderBrowser, models.ProviderAPI:
		default:
			return fmt.Errorf("override for %s: unknown provider %q", domain, kind)
		}
		if _, dup := seen[kind]; dup {
			return fmt.Errorf("override for %s: duplicate provider %q", domain, kind)
		}
		seen[kind] = struct{}{}
	}
	if o.RateLimitWindow < 0 {
		return fmt.Errorf("override for %s: negative rate limit window", domain)
	}
	if o.DefensiveTier < 0 || o.DefensiveTier > 2 {
		return fmt.Errorf("override for %s: defensive tier must be 0-2", domain)
	}
	return nil
}
