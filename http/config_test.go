package http

import (
	"testing"
	"time"

	"github.com/iaomarket/x402-go/retry"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero settlement delay", func(c *Config) { c.Settlement.InitialDelay = 0 }, false},
		{"negative settlement delay", func(c *Config) { c.Settlement.InitialDelay = -time.Second }, true},
		{"zero attempts", func(c *Config) { c.Settlement.MaxAttempts = 0 }, true},
		{"too many attempts", func(c *Config) { c.Settlement.MaxAttempts = 11 }, true},
		{"negative multiplier", func(c *Config) { c.Settlement.Multiplier = -1 }, true},
		{"zero window", func(c *Config) { c.ValidityWindow = 0 }, true},
		{"sub-second window", func(c *Config) { c.ValidityWindow = 500 * time.Millisecond }, true},
		{"fractional window", func(c *Config) { c.ValidityWindow = 90500 * time.Millisecond }, true},
		{"one second window", func(c *Config) { c.ValidityWindow = time.Second }, false},
		{"window over a day", func(c *Config) { c.ValidityWindow = 25 * time.Hour }, true},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSettlementPolicy_RetryConfig(t *testing.T) {
	p := SettlementPolicy{
		InitialDelay: time.Second,
		MaxAttempts:  4,
		Multiplier:   3,
		MaxDelay:     5 * time.Second,
		Deadline:     time.Minute,
	}

	assert.Equal(t, retry.Config{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   3,
		MaxElapsed:   time.Minute,
	}, p.retryConfig())
}
