package alertlog

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationsafe/scanner-go/internal/events"
	"github.com/stationsafe/scanner-go/internal/logger"
)

func newTestLog(t *testing.T, opts ...Option) *Log {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))}, opts...)
	l := New(opts...)
	t.Cleanup(func() { _ = l.Close(time.Second) })
	return l
}

func TestAppendPreservesOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	l := newTestLog(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	l.Append(LevelInfo, "Camera started.")
	l.AppendEntry(LevelInfo, KindDetected, "ToolBox", "ToolBox detected.")
	l.AppendEntry(LevelWarning, KindMissing, "ToolBox", "ToolBox missing!")

	entries := l.Entries(0)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, "Camera started.", entries[0].Message)
	assert.Equal(t, KindLifecycle, entries[0].Kind)
	assert.Equal(t, LevelWarning, entries[2].Level)
	assert.True(t, entries[1].Timestamp.Before(entries[2].Timestamp))

	latest, ok := l.Latest()
	require.True(t, ok)
	assert.Equal(t, "ToolBox missing!", latest.Message)
}

func TestEntriesSince(t *testing.T) {
	t.Parallel()

	l := newTestLog(t)
	for i := range 5 {
		l.Appendf(LevelInfo, "entry %d", i)
	}

	assert.Len(t, l.Entries(3), 2)
	assert.Empty(t, l.Entries(5))
	assert.Empty(t, l.Entries(99))
	assert.Equal(t, uint64(5), l.LastSeq())
}

func TestRetentionCap(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, WithMaxEntries(3))
	for i := range 10 {
		l.Appendf(LevelInfo, "entry %d", i)
	}

	entries := l.Entries(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 7", entries[0].Message)
	assert.Equal(t, uint64(8), entries[0].Seq)
	assert.Equal(t, uint64(10), l.LastSeq())
}

func TestSubscribersReceiveEntriesInOrder(t *testing.T) {
	t.Parallel()

	l := newTestLog(t)

	var mu sync.Mutex
	var got []uint64
	unsubscribe, err := l.Subscribe("test", func(e Entry) {
		mu.Lock()
		got = append(got, e.Seq)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, l.Subscribers())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				l.Append(LevelInfo, "tick")
			}
		}()
	}
	wg.Wait()

	// unsubscribe drains the queue before returning
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, seq := range got {
		assert.Equal(t, uint64(i+1), seq)
	}
	assert.Empty(t, l.Subscribers())
}

func TestSubscribeWithBufferAbsorbsBurst(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, WithDelivery(events.WithBufferSize(1)))

	release := make(chan struct{})
	var mu sync.Mutex
	var got int
	unsubscribe, err := l.SubscribeWithBuffer("store", 64, func(Entry) {
		<-release
		mu.Lock()
		got++
		mu.Unlock()
	})
	require.NoError(t, err)

	for range 50 {
		l.Append(LevelWarning, "ToolBox missing!")
	}
	close(release)
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, got)
	assert.Zero(t, l.Stats().EventsDropped)
}

func TestAppendAfterCloseStillRetains(t *testing.T) {
	t.Parallel()

	l := newTestLog(t)
	require.NoError(t, l.Close(time.Second))

	l.Append(LevelError, "Failed to read frame.")
	assert.Equal(t, 1, l.Len())

	_, err := l.Subscribe("late", func(Entry) {})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Level{
		"info":    LevelInfo,
		"WARNING": LevelWarning,
		"warn":    LevelWarning,
		" Error ": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("debug")
	require.Error(t, err)
}

func TestEntryJSON(t *testing.T) {
	t.Parallel()

	e := Entry{
		ID:        "id-1",
		Seq:       7,
		Timestamp: time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
		Level:     LevelWarning,
		Kind:      KindMissing,
		Class:     "OxygenTank",
		Message:   "OxygenTank missing!",
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"WARNING"`)

	var back Entry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e, back)
	assert.Equal(t, "[08:30:00] WARNING: OxygenTank missing!", e.String())
}
