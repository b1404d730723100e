// Package reconciler repairs orphaned ledger records: results that were
// committed to the ledger but never made it into their identity's index.
// It follows the ledger's commit event stream and retries the idempotent
// index append for every pending pair.
package reconciler

import (
	"errors"
	"time"
)

// Default values for the stream reconnection and retry configuration.
const (
	DefaultBaseDelay     = 100 * time.Millisecond
	DefaultMaxDelay      = 30 * time.Second
	DefaultJitterFactor  = 0.5 // 50% jitter
	DefaultRetryInterval = 15 * time.Second
)

// Configuration errors.
var (
	ErrEmptyStreamURL      = errors.New("ledger stream URL cannot be empty")
	ErrInvalidDelay        = errors.New("base delay must be positive")
	ErrInvalidMaxDelay     = errors.New("max delay must be >= base delay")
	ErrInvalidJitter       = errors.New("jitter factor must be between 0 and 1")
	ErrInvalidRetryInterval = errors.New("retry interval must be positive")
)

// Config holds configuration for the commit stream client and retry worker.
type Config struct {
	// StreamURL is the ledger's websocket commit event endpoint.
	StreamURL string

	// BaseDelay is the initial delay before the first reconnect attempt.
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between reconnect attempts.
	MaxDelay time.Duration

	// JitterFactor is the fraction of delay to randomize (0.0 to 1.0).
	// A value of 0.5 means the actual delay will be in [delay*0.75, delay*1.25].
	JitterFactor float64

	// RetryInterval is how often the worker sweeps the pending set and
	// retries index appends, independent of stream events.
	RetryInterval time.Duration
}

// DefaultConfig returns a Config with sensible default values.
// The stream URL must be provided by the caller.
func DefaultConfig(streamURL string) Config {
	return Config{
		StreamURL:     streamURL,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		JitterFactor:  DefaultJitterFactor,
		RetryInterval: DefaultRetryInterval,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.StreamURL == "" {
		return ErrEmptyStreamURL
	}
	if c.BaseDelay <= 0 {
		return ErrInvalidDelay
	}
	if c.MaxDelay < c.BaseDelay {
		return ErrInvalidMaxDelay
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidJitter
	}
	if c.RetryInterval <= 0 {
		return ErrInvalidRetryInterval
	}
	return nil
}
