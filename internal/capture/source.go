package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// Kind is the type of a capture source
type Kind string

const (
	KindScreen Kind = "screen"
	KindWindow Kind = "window"
)

// Source is a capturable platform source. Its ID uses the backend's own
// numbering and has no relation to display IDs.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Constraints describe the stream requested from a MediaAPI.
// Width and Height are exact: a backend must reject any other size.
type Constraints struct {
	SourceID string
	Width    int
	Height   int
}

// SourceEnumerator lists capturable sources
type SourceEnumerator interface {
	// Sources returns the current sources of the given kinds. Screen sources
	// are ordered like display.Provider.Displays.
	Sources(ctx context.Context, kinds ...Kind) ([]Source, error)
}

// MediaAPI opens live streams on capture sources
type MediaAPI interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live video source bound to one display
type Stream interface {
	// Ready is closed once the stream is playing, or has failed to start
	Ready() <-chan struct{}

	// Err reports why the stream failed to start, after Ready is closed
	Err() error

	// Frame returns the current frame
	Frame() (image.Image, error)

	// Stop releases the OS capture handle
	Stop() error
}

// Acquirer maps a display to its capture source and opens a ready stream
type Acquirer struct {
	displays display.Provider
	sources  SourceEnumerator
	media    MediaAPI
}

// NewAcquirer creates a stream acquirer
func NewAcquirer(displays display.Provider, sources SourceEnumerator, media MediaAPI) *Acquirer {
	return &Acquirer{
		displays: displays,
		sources:  sources,
		media:    media,
	}
}

// Acquire opens a stream on the screen source at the same list position as d
// and waits until it is playing. Sources and displays are numbered
// differently, so matching relies on both lists sharing the platform order;
// when the lists disagree Acquire fails with ErrSourceNotFound.
func (a *Acquirer) Acquire(ctx context.Context, d display.Display) (Stream, error) {
	log := logger.WithComponent("capture")

	all, err := a.sources.Sources(ctx, KindScreen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceEnumeration, err)
	}
	screens := make([]Source, 0, len(all))
	for _, s := range all {
		if s.Kind == KindScreen {
			screens = append(screens, s)
		}
	}

	displays, err := a.displays.Displays()
	if err != nil {
		return nil, fmt.Errorf("failed to list displays: %w", err)
	}

	index := display.IndexOf(displays, d.ID)
	if index < 0 || index >= len(screens) {
		return nil, fmt.Errorf("%w: display %d at index %d, %d displays, %d screen sources",
			ErrSourceNotFound, d.ID, index, len(displays), len(screens))
	}
	source := screens[index]

	log.Debug().
		Uint32("display_id", uint32(d.ID)).
		Str("source_id", source.ID).
		Int("width", d.Size.Width).
		Int("height", d.Size.Height).
		Msg("Opening stream")

	stream, err := a.media.Open(ctx, Constraints{
		SourceID: source.ID,
		Width:    d.Size.Width,
		Height:   d.Size.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: source %s: %w", ErrStreamAcquisition, source.ID, err)
	}

	select {
	case <-stream.Ready():
	case <-ctx.Done():
		stream.Stop()
		return nil, ctx.Err()
	}

	if err := stream.Err(); err != nil {
		stream.Stop()
		return nil, fmt.Errorf("%w: source %s: %w", ErrStreamAcquisition, source.ID, err)
	}

	return stream, nil
}
