package http

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/iaomarket/x402-go/evm"
	"github.com/iaomarket/x402-go/retry"
)

// DefaultSettlementDelay is the wait between signing and the paid retry.
const DefaultSettlementDelay = 2 * time.Second

// SettlementPolicy controls how the paid retry is scheduled.
// The first submission always waits InitialDelay. With MaxAttempts above one the same
// proof is resubmitted while the server answers 402 or 5xx, the delay growing by
// Multiplier up to MaxDelay, and never past Deadline.
type SettlementPolicy struct {
	InitialDelay time.Duration `validate:"gte=0"`
	MaxAttempts  int           `validate:"gte=1,lte=10"`
	Multiplier   float64       `validate:"gte=0,lte=10"`
	MaxDelay     time.Duration `validate:"gte=0"`
	Deadline     time.Duration `validate:"gte=0"`
}

// DefaultSettlementPolicy waits two seconds and submits the proof once.
func DefaultSettlementPolicy() SettlementPolicy {
	return SettlementPolicy{
		InitialDelay: DefaultSettlementDelay,
		MaxAttempts:  1,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
	}
}

func (p SettlementPolicy) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		Multiplier:   p.Multiplier,
		MaxElapsed:   p.Deadline,
	}
}

// Config is the validated configuration of a Client.
type Config struct {
	Settlement SettlementPolicy

	// ValidityWindow is how long each signed authorization stays valid, in whole seconds.
	ValidityWindow time.Duration `validate:"gte=1s,lte=24h"`

	// RequestTimeout bounds each HTTP round trip of the default HTTP client. Zero disables it.
	RequestTimeout time.Duration `validate:"gte=0"`

	// StrictRequirements rejects challenges whose addresses, network or scheme are not
	// usable on a known EVM chain instead of signing whatever the server sent.
	StrictRequirements bool
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		Settlement:     DefaultSettlementPolicy(),
		ValidityWindow: evm.DefaultValidityWindow,
		RequestTimeout: 30 * time.Second,
	}
}

var validate = validator.New()

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	if c.ValidityWindow%time.Second != 0 {
		return fmt.Errorf("invalid client config: validity window %s is not a whole number of seconds", c.ValidityWindow)
	}
	return nil
}
