package x402

import (
	"errors"
	"time"
)

// TimeoutConfig bounds the facilitator round trips made by the gate and the
// overall request made by the client driver.
type TimeoutConfig struct {
	// VerifyTimeout bounds a single facilitator /verify call.
	VerifyTimeout time.Duration

	// SettleTimeout bounds a single facilitator /settle call. Settlement waits
	// for an on-chain transaction, so it must be at least VerifyTimeout.
	SettleTimeout time.Duration

	// RequestTimeout bounds a whole paid request on the client side, including
	// the retry. Zero disables the bound.
	RequestTimeout time.Duration
}

// DefaultTimeouts are used when no TimeoutConfig is supplied.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// Validate reports whether the timeouts are usable.
func (tc TimeoutConfig) Validate() error {
	if tc.VerifyTimeout <= 0 {
		return errors.New("x402: verify timeout must be positive")
	}
	if tc.SettleTimeout <= 0 {
		return errors.New("x402: settle timeout must be positive")
	}
	if tc.SettleTimeout < tc.VerifyTimeout {
		return errors.New("x402: settle timeout must not be shorter than verify timeout")
	}
	if tc.RequestTimeout < 0 {
		return errors.New("x402: request timeout cannot be negative")
	}
	return nil
}

// WithVerifyTimeout returns a copy with VerifyTimeout replaced.
func (tc TimeoutConfig) WithVerifyTimeout(d time.Duration) TimeoutConfig {
	tc.VerifyTimeout = d
	return tc
}

// WithSettleTimeout returns a copy with SettleTimeout replaced.
func (tc TimeoutConfig) WithSettleTimeout(d time.Duration) TimeoutConfig {
	tc.SettleTimeout = d
	return tc
}

// WithRequestTimeout returns a copy with RequestTimeout replaced.
func (tc TimeoutConfig) WithRequestTimeout(d time.Duration) TimeoutConfig {
	tc.RequestTimeout = d
	return tc
}
