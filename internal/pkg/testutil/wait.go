// Package testutil holds polling helpers shared by package tests.
package testutil

import (
	"testing"
	"time"
)

// DefaultPollInterval is the interval used by Eventually.
const DefaultPollInterval = 5 * time.Millisecond

// WaitFor polls condition every interval until it holds or timeout expires.
// It reports whether the condition was met.
func WaitFor(t testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		select {
		case <-deadline.C:
			return condition()
		case <-ticker.C:
		}
	}
}

// Eventually fails the test when condition does not hold within timeout.
func Eventually(t testing.TB, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	if !WaitFor(t, timeout, DefaultPollInterval, condition) {
		t.Fatalf("timed out after %v: %s", timeout, msg)
	}
}
