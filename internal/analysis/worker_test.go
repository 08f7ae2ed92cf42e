package analysis

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationsafe/scanner-go/internal/capture"
	"github.com/stationsafe/scanner-go/internal/detection"
	"github.com/stationsafe/scanner-go/internal/detector/detectortest"
	"github.com/stationsafe/scanner-go/internal/errors"
)

var testRegistry = detection.ClassRegistry{"FireExtinguisher", "ToolBox", "OxygenTank"}

func testConfig() detection.Config {
	return detection.Config{ConfidenceThreshold: 0.5, Registry: testRegistry}
}

func storeFrame(slot *capture.Slot, source string) *capture.Frame {
	f := capture.NewFrame(image.NewRGBA(image.Rect(0, 0, 8, 8)), source)
	slot.Store(f)
	return f
}

// classPerSeq reports one candidate whose class is derived from the frame
// sequence number, so a Result can be checked against its own frame.
func classPerSeq(f *capture.Frame) ([]detection.RawCandidate, error) {
	return []detection.RawCandidate{{
		ClassID:    int(f.Seq % 3),
		Confidence: 0.9,
		Box:        detection.BBox{X2: 10, Y2: 10},
	}}, nil
}

func startWorker(t *testing.T, slot *capture.Slot, infer Inferer) (*Worker, chan *Result) {
	t.Helper()
	results := make(chan *Result, 16)
	w := NewWorker(slot, infer, testConfig, func(r *Result) { results <- r },
		WithPollInterval(2*time.Millisecond),
		WithStopTimeout(time.Second))
	require.NoError(t, w.Start(t.Context()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, results
}

func awaitResult(t *testing.T, results <-chan *Result) *Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func TestWorkerPairsFrameWithItsDetections(t *testing.T) {
	t.Parallel()

	var slot capture.Slot
	det := detectortest.New(classPerSeq)
	w, results := startWorker(t, &slot, det)

	for range 3 {
		f := storeFrame(&slot, "test")
		r := awaitResult(t, results)

		require.Same(t, f, r.Frame)
		require.Len(t, r.Detections, 1)
		assert.Equal(t, int(f.Seq%3), r.Detections[0].ClassID)
		assert.Equal(t, testRegistry[f.Seq%3], r.Detections[0].ClassName)
	}
	assert.NotNil(t, w.Latest())
}

func TestWorkerSkipsUnchangedFrame(t *testing.T) {
	t.Parallel()

	var slot capture.Slot
	det := detectortest.Fixed()
	_, results := startWorker(t, &slot, det)

	f := storeFrame(&slot, "test")
	awaitResult(t, results)

	// several poll intervals with the same frame in the slot
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []uint64{f.Seq}, det.Seen())
	assert.Empty(t, results)
}

func TestWorkerSkipsReplacedFrames(t *testing.T) {
	t.Parallel()

	var slot capture.Slot
	det := detectortest.New(classPerSeq)
	det.Gate = make(chan struct{})
	det.Entered = make(chan uint64, 4)
	_, results := startWorker(t, &slot, det)

	f1 := storeFrame(&slot, "test")
	assert.Equal(t, f1.Seq, <-det.Entered)

	// replaced twice while the detector is busy
	storeFrame(&slot, "test")
	f3 := storeFrame(&slot, "test")
	det.Gate <- struct{}{}
	assert.Same(t, f1, awaitResult(t, results).Frame)

	assert.Equal(t, f3.Seq, <-det.Entered)
	det.Gate <- struct{}{}
	assert.Same(t, f3, awaitResult(t, results).Frame)

	assert.Equal(t, []uint64{f1.Seq, f3.Seq}, det.Seen())
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	var slot capture.Slot
	w := NewWorker(&slot, detectortest.Fixed(), testConfig, nil, WithPollInterval(time.Millisecond))
	assert.Equal(t, WorkerIdle, w.State())

	// stopping an idle worker does nothing
	require.NoError(t, w.Stop())
	assert.Equal(t, WorkerIdle, w.State())

	require.NoError(t, w.Start(t.Context()))
	assert.Equal(t, WorkerRunning, w.State())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Equal(t, WorkerStopped, w.State())

	err := w.Start(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestWorkerStopDuringInferenceDoesNotPublish(t *testing.T) {
	t.Parallel()

	var slot capture.Slot
	det := detectortest.Fixed(detection.RawCandidate{ClassID: 1, Confidence: 0.9, Box: detection.BBox{X2: 1, Y2: 1}})
	det.Gate = make(chan struct{})
	det.Entered = make(chan uint64, 1)
	w, results := startWorker(t, &slot, det)

	storeFrame(&slot, "test")
	<-det.Entered

	require.NoError(t, w.Stop())
	assert.Equal(t, WorkerStopped, w.State())
	assert.Nil(t, w.Latest())
	assert.Empty(t, results)
}

// blockingInferer ignores cancellation until released
type blockingInferer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingInferer) Infer(context.Context, *capture.Frame, float64) ([]detection.RawCandidate, error) {
	b.entered <- struct{}{}
	<-b.release
	return nil, nil
}

func TestWorkerStopIsBounded(t *testing.T) {
	t.Parallel()

	var slot capture.Slot
	inf := &blockingInferer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	w := NewWorker(&slot, inf, testConfig, nil,
		WithPollInterval(time.Millisecond),
		WithStopTimeout(20*time.Millisecond))
	require.NoError(t, w.Start(t.Context()))

	storeFrame(&slot, "test")
	<-inf.entered

	start := time.Now()
	err := w.Stop()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Less(t, time.Since(start), time.Second)

	close(inf.release)
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after release")
	}
	assert.Equal(t, WorkerStopped, w.State())
	assert.Nil(t, w.Latest())
}

func TestWorkerSurvivesInferenceError(t *testing.T) {
	t.Parallel()

	var slot capture.Slot
	fail := true
	det := detectortest.New(func(f *capture.Frame) ([]detection.RawCandidate, error) {
		if fail {
			fail = false
			return nil, errors.NewStd("transient")
		}
		return classPerSeq(f)
	})
	det.Entered = make(chan uint64, 4)
	_, results := startWorker(t, &slot, det)

	storeFrame(&slot, "test")
	<-det.Entered

	f2 := storeFrame(&slot, "test")
	r := awaitResult(t, results)
	assert.Same(t, f2, r.Frame)
}

func TestWorkerStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", WorkerIdle.String())
	assert.Equal(t, "running", WorkerRunning.String())
	assert.Equal(t, "stopping", WorkerStopping.String())
	assert.Equal(t, "stopped", WorkerStopped.String())
	assert.Equal(t, "WorkerState(9)", WorkerState(9).String())
}
