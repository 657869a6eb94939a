package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RetryPolicy bounds the attempts made in one retrying state.
type RetryPolicy struct {
	// MaxAttempts is the number of failures that ends in StateFaulted.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy mirrors the daemon config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Validate reports every problem with the policy in one error.
func (p RetryPolicy) Validate() error {
	var errs []string
	if p.MaxAttempts <= 0 {
		errs = append(errs, "max attempts must be positive")
	}
	if p.InitialDelay <= 0 {
		errs = append(errs, "initial delay must be positive")
	}
	if p.MaxDelay <= 0 {
		errs = append(errs, "max delay must be positive")
	}
	if p.MaxDelay > 0 && p.InitialDelay > p.MaxDelay {
		errs = append(errs, "initial delay exceeds max delay")
	}
	if p.Multiplier < 1 || math.IsNaN(p.Multiplier) || math.IsInf(p.Multiplier, 0) {
		errs = append(errs, "multiplier must be a finite value >= 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, strings.Join(errs, "; "))
	}
	return nil
}

// Backoff returns the delay after the k-th consecutive failure (1-based):
// min(InitialDelay * Multiplier^(k-1), MaxDelay).
func (p RetryPolicy) Backoff(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(k-1))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Exhausted reports whether failure k uses up the budget.
func (p RetryPolicy) Exhausted(k int) bool {
	return k >= p.MaxAttempts
}
