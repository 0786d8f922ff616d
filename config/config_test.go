package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative workers",
			mutate: func(cfg *Config) {
				cfg.Workers = -1
			},
			wantErr: "workers",
		},
		{
			name: "zero browser pool",
			mutate: func(cfg *Config) {
				cfg.BrowserPoolSize = 0
			},
			wantErr: "browser pool",
		},
		{
			name: "negative domain delay",
			mutate: func(cfg *Config) {
				cfg.DomainDelay = -1 * time.Second
			},
			wantErr: "domain delay",
		},
		{
			name: "zero base timeout",
			mutate: func(cfg *Config) {
				cfg.BaseTimeout = 0
			},
			wantErr: "base timeout",
		},
		{
			name: "price max below min",
			mutate: func(cfg *Config) {
				cfg.PriceMinMinorUnits = 100
				cfg.PriceMaxMinorUnits = 50
			},
			wantErr: "price maximum",
		},
		{
			name: "empty output file",
			mutate: func(cfg *Config) {
				cfg.OutputFile = ""
			},
			wantErr: "output file",
		},
		{
			name: "unknown output format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
		{
			name: "zero batch size",
			mutate: func(cfg *Config) {
				cfg.BatchSize = 0
			},
			wantErr: "batch size",
		},
		{
			name: "empty user agent",
			mutate: func(cfg *Config) {
				cfg.UserAgent = ""
			},
			wantErr: "user agent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("HARVESTER_TEST_INT", "12")
	value, ok, err := EnvInt("HARVESTER_TEST_INT")
	if err != nil || !ok || value != 12 {
		t.Fatalf("EnvInt = (%d, %v, %v), want (12, true, nil)", value, ok, err)
	}

	t.Setenv("HARVESTER_TEST_INT", "not-a-number")
	if _, _, err := EnvInt("HARVESTER_TEST_INT"); err == nil {
		t.Fatal("expected parse error for non-numeric value")
	}

	if _, ok, _ := EnvInt("HARVESTER_TEST_INT_UNSET"); ok {
		t.Fatal("unset variable should report ok=false")
	}
}
