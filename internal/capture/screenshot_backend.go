package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenshotBackend streams displays through github.com/kbinani/screenshot.
// It works on Windows, macOS and X11 and is the fallback when the native X11
// backend is unavailable.
type ScreenshotBackend struct{}

// NewScreenshotBackend creates the backend
func NewScreenshotBackend() *ScreenshotBackend {
	return &ScreenshotBackend{}
}

// Name returns the backend name
func (b *ScreenshotBackend) Name() string {
	return "screenshot"
}

// Close is a no-op; the library holds no long-lived handles
func (b *ScreenshotBackend) Close() error {
	return nil
}

// Sources returns one screen source per active display
func (b *ScreenshotBackend) Sources(ctx context.Context, kinds ...Kind) ([]Source, error) {
	if !wantsKind(kinds, KindScreen) {
		return nil, nil
	}
	return screenSources(screenshot.NumActiveDisplays()), nil
}

// Open starts a stream on a display
func (b *ScreenshotBackend) Open(ctx context.Context, c Constraints) (Stream, error) {
	index, err := parseScreenSourceID(c.SourceID)
	if err != nil {
		return nil, err
	}

	n := screenshot.NumActiveDisplays()
	if index >= n {
		return nil, fmt.Errorf("no display at index %d (%d displays)", index, n)
	}

	bounds := screenshot.GetDisplayBounds(index)
	if err := checkConstraints(c, bounds); err != nil {
		return nil, err
	}

	return NewGrabStream(func() (*image.RGBA, error) {
		return screenshot.CaptureRect(bounds)
	}), nil
}

// screenSources builds n screen sources with IDs "screen:<index>:0"
func screenSources(n int) []Source {
	sources := make([]Source, 0, n)
	for i := 0; i < n; i++ {
		sources = append(sources, Source{
			ID:   fmt.Sprintf("screen:%d:0", i),
			Name: fmt.Sprintf("Screen %d", i+1),
			Kind: KindScreen,
		})
	}
	return sources
}

func parseScreenSourceID(id string) (int, error) {
	var index, sub int
	if _, err := fmt.Sscanf(id, "screen:%d:%d", &index, &sub); err != nil {
		return 0, fmt.Errorf("invalid screen source id %q: %w", id, err)
	}
	if index < 0 {
		return 0, fmt.Errorf("invalid screen source id %q", id)
	}
	return index, nil
}

func checkConstraints(c Constraints, bounds image.Rectangle) error {
	if bounds.Dx() != c.Width || bounds.Dy() != c.Height {
		return fmt.Errorf("constraints %dx%d do not match source size %dx%d",
			c.Width, c.Height, bounds.Dx(), bounds.Dy())
	}
	return nil
}

func wantsKind(kinds []Kind, kind Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
