// Package testutil provides polling assertions for asynchronous behavior,
// replacing sleep-based synchronization in tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTimeout is the default timeout for Eventually.
const DefaultTimeout = 5 * time.Second

// DefaultInterval is the default polling interval for Eventually.
const DefaultInterval = 50 * time.Millisecond

// Eventually polls a condition function until it returns true or the timeout
// expires.
//
// Example:
//
//	testutil.Eventually(t, func() bool {
//	    return runtime.Status().Running
//	}, testutil.WithTimeout(2*time.Second))
func Eventually(t testing.TB, condition func() bool, opts ...Option) bool {
	t.Helper()

	cfg := &config{
		timeout:  DefaultTimeout,
		interval: DefaultInterval,
		message:  "condition was not satisfied",
	}

	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	// Check immediately first
	if condition() {
		return true
	}

	for {
		select {
		case <-ctx.Done():
			t.Errorf("Eventually timed out after %v: %s", cfg.timeout, cfg.message)
			return false
		case <-ticker.C:
			if condition() {
				return true
			}
		}
	}
}

// config holds the configuration for Eventually.
type config struct {
	timeout  time.Duration
	interval time.Duration
	message  string
}

// Option configures Eventually behavior.
type Option func(*config)

// WithTimeout sets the maximum time to wait for the condition.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		c.interval = d
	}
}

// WithMessage sets the error message shown on timeout.
func WithMessage(msg string) Option {
	return func(c *config) {
		c.message = msg
	}
}

// WaitForClose waits for a channel to close within the timeout.
func WaitForClose[T any](t testing.TB, ch <-chan T, timeout time.Duration) bool {
	t.Helper()

	select {
	case _, ok := <-ch:
		return !ok // True if channel closed
	case <-time.After(timeout):
		t.Errorf("WaitForClose timed out after %v", timeout)
		return false
	}
}
