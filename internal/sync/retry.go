package sync

import (
	"math/rand"
	"time"
)

// RetryConfig bounds how often a retryable request (update, delete) is
// resent before it is dropped.
type RetryConfig struct {
	// MaxAttempts includes the first attempt. Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. Zero retries on
	// the next drain pass.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay. Default: 1m
	MaxBackoff time.Duration

	// Multiplier grows the delay after each failure. Default: 2
	Multiplier float64

	// Jitter in [0,1]; 0.1 means ±10%.
	Jitter float64
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff < 0 {
		c.InitialBackoff = 0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0.1
	}
	return c
}

// backoff returns the delay before the next attempt after failures
// consecutive failures.
func (c RetryConfig) backoff(failures int) time.Duration {
	if c.InitialBackoff == 0 || failures <= 0 {
		return 0
	}
	d := float64(c.InitialBackoff)
	for i := 1; i < failures; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxBackoff) {
			d = float64(c.MaxBackoff)
			break
		}
	}
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter > 0 {
		d += d * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}
