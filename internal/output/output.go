package output

import (
	"fmt"
	"image"
	"time"
)

// Encoder turns a sequence of rendered frames into a video container.
// Implementations:
// - MJPEG multipart stream (in-process, also served live over HTTP)
// - GStreamer subprocess (VP8 in WebM)
type Encoder interface {
	// Begin prepares the encoder for frames of the configured size
	Begin(cfg Config) error

	// EncodeFrame appends a frame. ts is the presentation time relative to
	// the start of the recording.
	EncodeFrame(frame *image.RGBA, ts time.Duration) error

	// End finalizes the container and returns the encoded bytes
	End() ([]byte, error)

	// MIMEType returns the MIME type of the produced container
	MIMEType() string

	// Name returns a human-readable name for this encoder
	Name() string
}

// Config holds common configuration for all encoders
type Config struct {
	Width  int
	Height int
	FPS    int
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %d", c.FPS)
	}
	return nil
}

// New creates an encoder by name ("mjpeg" or "gstreamer")
func New(name string, quality int) (Encoder, error) {
	switch name {
	case "", "mjpeg":
		return NewMJPEGEncoder(quality), nil
	case "gstreamer":
		return NewGStreamerEncoder(), nil
	default:
		return nil, fmt.Errorf("unknown video encoder %q", name)
	}
}
