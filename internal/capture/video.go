package capture

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
	"github.com/bryanchriswhite/snapdesk/internal/output"
)

// VideoResult is a finished recording
type VideoResult struct {
	Data     []byte        `json:"-"`
	MIMEType string        `json:"mime_type"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Frames   uint64        `json:"frames"`
	Duration time.Duration `json:"duration"`
}

// Recording is a running video capture of one display region
type Recording struct {
	Region  Region
	Display display.Display

	stream   Stream
	loop     *Loop
	recorder *Recorder
	enc      output.Encoder
	log      zerolog.Logger

	mu      sync.Mutex
	stopped bool
}

// CaptureVideo starts recording a display region. The render loop draws
// the live stream into the surface at the configured rate and the
// recorder encodes each rendered frame until Stop.
func (c *Capturer) CaptureVideo(ctx context.Context, r Region) (*Recording, error) {
	d, r, err := c.plan(r)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("capture").With().
		Uint32("display_id", uint32(d.ID)).
		Logger()

	enc, err := c.opts.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	stream, err := c.acquirer.Acquire(ctx, d)
	if err != nil {
		return nil, err
	}

	surface := NewSurface(r)
	recorder := NewRecorder(surface, enc)
	if err := recorder.Start(c.opts.FPS); err != nil {
		stream.Stop()
		return nil, err
	}

	rec := &Recording{
		Region:   r,
		Display:  d,
		stream:   stream,
		recorder: recorder,
		enc:      enc,
		log:      log,
	}

	interval := time.Second / time.Duration(c.opts.FPS)
	rec.loop = StartLoop(interval, rec.renderFrame)

	log.Info().
		Int("width", r.Width).
		Int("height", r.Height).
		Int("fps", c.opts.FPS).
		Str("encoder", enc.Name()).
		Msg("Recording started")

	return rec, nil
}

func (rec *Recording) renderFrame() {
	frame, err := rec.stream.Frame()
	if err != nil {
		rec.log.Debug().Err(err).Msg("Skipping frame")
		return
	}
	DrawFrame(rec.recorder.surface, frame, rec.Region)
	rec.recorder.Capture()
}

// Pause suspends encoding; the render loop keeps drawing
func (rec *Recording) Pause() error {
	return rec.recorder.Pause()
}

// Resume continues encoding
func (rec *Recording) Resume() error {
	return rec.recorder.Resume()
}

// State returns the recorder state
func (rec *Recording) State() RecorderState {
	return rec.recorder.State()
}

// Frames returns the number of frames rendered so far
func (rec *Recording) Frames() uint64 {
	return rec.loop.Frames()
}

// LiveHandler returns a live MJPEG view of the recording, or nil when the
// encoder cannot stream live
func (rec *Recording) LiveHandler() http.Handler {
	if m, ok := rec.enc.(*output.MJPEGEncoder); ok {
		return m.Handler()
	}
	return nil
}

// Stop ends the render loop, finalizes the encoder and releases the stream.
// A second Stop returns ErrAlreadyStopped.
func (rec *Recording) Stop() (*VideoResult, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.stopped {
		return nil, ErrAlreadyStopped
	}
	rec.stopped = true

	rec.loop.Stop()

	data, encErr := rec.recorder.Stop()

	if err := rec.stream.Stop(); err != nil {
		rec.log.Warn().Err(err).Msg("Failed to stop stream")
	}

	if encErr != nil {
		return nil, encErr
	}

	result := &VideoResult{
		Data:     data,
		MIMEType: rec.enc.MIMEType(),
		Width:    rec.Region.Width,
		Height:   rec.Region.Height,
		Frames:   rec.loop.Frames(),
		Duration: rec.recorder.Duration(),
	}

	rec.log.Info().
		Uint64("frames", result.Frames).
		Dur("duration", result.Duration).
		Int("bytes", len(data)).
		Msg("Recording stopped")

	return result, nil
}
