package capture

import (
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/output"
)

// Options configure a Capturer
type Options struct {
	// Format is the still image file extension, such as png or jpg.
	// Empty means png.
	Format string

	// JPEGQuality applies when Format is JPEG
	JPEGQuality int

	// FPS is the video render and encode rate
	FPS int

	// NewEncoder creates the video encoder for each recording
	NewEncoder func() (output.Encoder, error)
}

// DefaultOptions returns PNG stills and 30 FPS MJPEG video
func DefaultOptions() Options {
	return Options{
		Format:      "png",
		JPEGQuality: 90,
		FPS:         30,
		NewEncoder: func() (output.Encoder, error) {
			return output.NewMJPEGEncoder(90), nil
		},
	}
}

// Capturer runs the still and video capture pipelines
type Capturer struct {
	displays display.Provider
	acquirer *Acquirer
	opts     Options

	format    imaging.Format
	formatErr error
}

// NewCapturer creates a capturer. Zero fields of opts take their defaults.
func NewCapturer(displays display.Provider, sources SourceEnumerator, media MediaAPI, opts Options) *Capturer {
	def := DefaultOptions()
	if opts.Format == "" {
		opts.Format = def.Format
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = def.JPEGQuality
	}
	if opts.FPS <= 0 {
		opts.FPS = def.FPS
	}
	if opts.NewEncoder == nil {
		opts.NewEncoder = def.NewEncoder
	}

	format, err := imaging.FormatFromExtension(opts.Format)

	return &Capturer{
		displays:  displays,
		acquirer:  NewAcquirer(displays, sources, media),
		opts:      opts,
		format:    format,
		formatErr: err,
	}
}

// Displays returns the display provider
func (c *Capturer) Displays() display.Provider {
	return c.displays
}

// plan resolves the region's display and derives its geometry
func (c *Capturer) plan(r Region) (display.Display, Region, error) {
	d, err := display.Resolve(c.displays, r.DisplayID)
	if err != nil {
		return display.Display{}, Region{}, err
	}

	reservedTop, err := c.displays.ReservedTop()
	if err != nil {
		return display.Display{}, Region{}, fmt.Errorf("failed to read reserved top offset: %w", err)
	}

	return d, Plan(d, r, reservedTop), nil
}
