// Package testutil provides shared test helpers for the scanner packages.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = 1 * time.Second
)

// WaitForChannel waits for a signal on the channel or fails after timeout.
// Use this for done channels and shutdown signals.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// WaitForError waits for the result of a goroutine that reports on errCh
// and returns it, failing after timeout.
func WaitForError(t *testing.T, errCh <-chan error, timeout time.Duration, msg string) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		require.Fail(t, msg)
		return nil
	}
}

// RequireNotSignalled fails if ch is already closed or has a value ready.
func RequireNotSignalled(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
		require.Fail(t, msg)
	default:
	}
}
