package display

import (
	"github.com/kbinani/screenshot"
)

// ScreenshotProvider reports displays through github.com/kbinani/screenshot.
//
// Display IDs are the active display index plus one. The library cannot
// report the OS work area, so the reserved top offset comes from config.
type ScreenshotProvider struct {
	reservedTop int
}

// NewScreenshotProvider creates a provider with a fixed reserved top offset
func NewScreenshotProvider(reservedTop int) *ScreenshotProvider {
	return &ScreenshotProvider{reservedTop: reservedTop}
}

// Displays returns all active displays in library order
func (p *ScreenshotProvider) Displays() ([]Display, error) {
	n := screenshot.NumActiveDisplays()
	displays := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		displays = append(displays, Display{
			ID:     ID(i + 1),
			Bounds: RectFrom(bounds),
			Size:   Size{Width: bounds.Dx(), Height: bounds.Dy()},
		})
	}
	return displays, nil
}

// Primary returns the display at the virtual-screen origin
func (p *ScreenshotProvider) Primary() (Display, error) {
	displays, err := p.Displays()
	if err != nil {
		return Display{}, err
	}
	return primaryOf(displays)
}

// ReservedTop returns the configured offset
func (p *ScreenshotProvider) ReservedTop() (int, error) {
	return p.reservedTop, nil
}
