package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaitForChannel(t *testing.T) {
	t.Parallel()
	ch := make(chan struct{})
	close(ch)
	WaitForChannel(t, ch, ShortTestTimeout, "closed channel should signal")
}

func TestWaitForError(t *testing.T) {
	t.Parallel()
	errCh := make(chan error, 1)
	errCh <- errors.New("boom")
	assert.EqualError(t, WaitForError(t, errCh, ShortTestTimeout, "no result"), "boom")
}

func TestRequireNotSignalled(t *testing.T) {
	t.Parallel()
	RequireNotSignalled(t, make(chan struct{}), "open channel must not signal")
}
