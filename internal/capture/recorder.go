package capture

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/snapdesk/internal/output"
)

// RecorderState is the state of a Recorder
type RecorderState int

const (
	RecorderRecording RecorderState = iota
	RecorderPaused
	RecorderStopped
)

func (s RecorderState) String() string {
	switch s {
	case RecorderRecording:
		return "recording"
	case RecorderPaused:
		return "paused"
	case RecorderStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Recorder feeds a drawing surface to an encoder
type Recorder struct {
	surface *image.RGBA
	enc     output.Encoder

	mu        sync.Mutex
	state     RecorderState
	started   time.Time
	pausedAt  time.Time
	paused    time.Duration
	stoppedAt time.Time
	encoded   uint64
	err       error
}

// NewRecorder creates a recorder over surface
func NewRecorder(surface *image.RGBA, enc output.Encoder) *Recorder {
	return &Recorder{
		surface: surface,
		enc:     enc,
		state:   RecorderStopped,
	}
}

// Start begins encoding at fps frames per second
func (r *Recorder) Start(fps int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.surface.Bounds()
	if err := r.enc.Begin(output.Config{Width: b.Dx(), Height: b.Dy(), FPS: fps}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEncoding, r.enc.Name(), err)
	}
	r.state = RecorderRecording
	r.started = time.Now()
	return nil
}

// Capture encodes the current surface content while recording. The first
// encoder error is kept and reported by Stop.
func (r *Recorder) Capture() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RecorderRecording || r.err != nil {
		return
	}
	ts := time.Since(r.started) - r.paused
	if err := r.enc.EncodeFrame(r.surface, ts); err != nil {
		r.err = err
		return
	}
	r.encoded++
}

// Pause suspends encoding; frames captured while paused are dropped
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case RecorderStopped:
		return ErrAlreadyStopped
	case RecorderRecording:
		r.state = RecorderPaused
		r.pausedAt = time.Now()
	}
	return nil
}

// Resume continues encoding after Pause
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case RecorderStopped:
		return ErrAlreadyStopped
	case RecorderPaused:
		r.paused += time.Since(r.pausedAt)
		r.state = RecorderRecording
	}
	return nil
}

// Stop finalizes the encoder and returns the encoded bytes
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == RecorderStopped {
		return nil, ErrAlreadyStopped
	}
	if r.state == RecorderPaused {
		r.paused += time.Since(r.pausedAt)
	}
	r.state = RecorderStopped
	r.stoppedAt = time.Now()

	data, err := r.enc.End()
	if r.err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoding, r.enc.Name(), r.err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoding, r.enc.Name(), err)
	}
	return data, nil
}

// State returns the current state
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Encoded returns the number of frames handed to the encoder
func (r *Recorder) Encoded() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.encoded
}

// Duration returns the recorded time, excluding pauses
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started.IsZero() {
		return 0
	}
	end := time.Now()
	if r.state == RecorderStopped {
		end = r.stoppedAt
	}
	d := end.Sub(r.started) - r.paused
	if r.state == RecorderPaused {
		d -= time.Since(r.pausedAt)
	}
	return d
}
