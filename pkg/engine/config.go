package engine

import (
	"fmt"
	"time"
)

// DefaultMaxTransactionFee is one whole unit in tinybars.
const DefaultMaxTransactionFee uint64 = 100_000_000

// Config holds the execution defaults shared by every request.
type Config struct {
	// MaxAttempts bounds round trips per phase: the cost probe and the main
	// loop each get their own budget.
	MaxAttempts int

	// AttemptTimeout bounds a single round trip.
	AttemptTimeout time.Duration

	// MinBackoff is the first retry delay; each retry doubles it.
	MinBackoff time.Duration

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration

	// MaxTransactionFee is the fee ceiling written into payment instruments
	// and transactions that do not set their own.
	MaxTransactionFee uint64

	// MaxQueryPayment rejects probed costs above it. Zero means no limit.
	MaxQueryPayment uint64

	// ValidDuration is how long a signed body stays acceptable to nodes.
	ValidDuration time.Duration

	// SkipCostProbe disables the automatic probe; paid queries then need an
	// explicit payment.
	SkipCostProbe bool
}

// DefaultConfig returns the execution defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       10,
		AttemptTimeout:    10 * time.Second,
		MinBackoff:        250 * time.Millisecond,
		MaxBackoff:        8 * time.Second,
		MaxTransactionFee: DefaultMaxTransactionFee,
		ValidDuration:     120 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got: %d", c.MaxAttempts)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got: %s", c.AttemptTimeout)
	}
	if c.MinBackoff < 0 {
		return fmt.Errorf("min backoff must not be negative, got: %s", c.MinBackoff)
	}
	if c.MaxBackoff < c.MinBackoff {
		return fmt.Errorf("max backoff %s is below min backoff %s", c.MaxBackoff, c.MinBackoff)
	}
	if c.ValidDuration <= 0 {
		return fmt.Errorf("valid duration must be positive, got: %s", c.ValidDuration)
	}
	return nil
}
