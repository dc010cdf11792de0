package capture

import (
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	l := StartLoop(time.Hour, func() { calls.Add(1) })
	defer l.Stop()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), l.Frames())
}

func TestLoopStopIsSynchronous(t *testing.T) {
	var calls atomic.Int32
	l := StartLoop(time.Millisecond, func() {
		calls.Add(1)
		time.Sleep(2 * time.Millisecond)
	})

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	l.Stop()

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.Equal(t, uint64(after), l.Frames())

	l.Stop()
}

func TestRecorderStopTwice(t *testing.T) {
	enc := &fakeEncoder{}
	r := NewRecorder(image.NewRGBA(image.Rect(0, 0, 4, 4)), enc)
	assert.Equal(t, RecorderStopped, r.State())
	require.NoError(t, r.Start(10))
	assert.Equal(t, "recording", r.State().String())

	r.Capture()
	r.Capture()

	data, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("video"), data)
	assert.Equal(t, uint64(2), r.Encoded())

	_, err = r.Stop()
	assert.ErrorIs(t, err, ErrAlreadyStopped)
	assert.ErrorIs(t, r.Resume(), ErrAlreadyStopped)
	assert.Equal(t, "stopped", r.State().String())
}

func TestRecorderTimestampsExcludePauses(t *testing.T) {
	enc := &fakeEncoder{}
	r := NewRecorder(image.NewRGBA(image.Rect(0, 0, 4, 4)), enc)
	require.NoError(t, r.Start(10))

	require.NoError(t, r.Pause())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Resume())

	r.Capture()
	assert.Less(t, enc.last, 40*time.Millisecond)
	assert.Less(t, r.Duration(), 40*time.Millisecond)
}
