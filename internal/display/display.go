// Package display resolves display identifiers to live display geometry.
//
// Displays are never cached: every capture asks its Provider again, since
// monitors can be connected or removed between two captures.
package display

import (
	"errors"
	"fmt"
	"image"
)

// ErrDisplayNotFound is returned when no connected display has the requested ID
var ErrDisplayNotFound = errors.New("display not found")

// ID identifies a display. IDs are assigned by a Provider and are never zero;
// the zero ID stands for the primary display.
type ID uint32

// Primary selects the platform's primary display in Resolve.
const Primary ID = 0

// Rect is a display rectangle in virtual-screen coordinates
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Rectangle converts r to an image.Rectangle
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// RectFrom converts an image.Rectangle to a Rect
func RectFrom(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Size is a pixel size
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Display is a snapshot of one connected monitor
type Display struct {
	ID      ID   `json:"id" yaml:"id"`
	Bounds  Rect `json:"bounds" yaml:"bounds"`
	Size    Size `json:"size" yaml:"size"`
	Primary bool `json:"primary" yaml:"primary"`
}

// Provider reports the currently connected displays.
//
// Displays must return monitors in the same order the capture backend
// enumerates its screen sources; the stream acquirer relies on it.
type Provider interface {
	// Displays returns all connected displays in platform order
	Displays() ([]Display, error)

	// Primary returns the primary display
	Primary() (Display, error)

	// ReservedTop returns the top offset of the work area reserved by the
	// OS (menu bars, top panels) in virtual-screen coordinates
	ReservedTop() (int, error)
}

// Resolve returns the display with the given ID, or the primary display
// when id is Primary.
func Resolve(p Provider, id ID) (Display, error) {
	if id == Primary {
		d, err := p.Primary()
		if err != nil {
			return Display{}, fmt.Errorf("failed to get primary display: %w", err)
		}
		return d, nil
	}

	displays, err := p.Displays()
	if err != nil {
		return Display{}, fmt.Errorf("failed to list displays: %w", err)
	}
	for _, d := range displays {
		if d.ID == id {
			return d, nil
		}
	}
	return Display{}, fmt.Errorf("%w: id %d", ErrDisplayNotFound, id)
}

// IndexOf returns the position of the display with the given ID, or -1
func IndexOf(displays []Display, id ID) int {
	for i, d := range displays {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// primaryOf picks the display whose bounds contain the virtual-screen origin,
// falling back to the first display.
func primaryOf(displays []Display) (Display, error) {
	if len(displays) == 0 {
		return Display{}, fmt.Errorf("%w: no active displays", ErrDisplayNotFound)
	}
	for _, d := range displays {
		if d.Primary {
			return d, nil
		}
	}
	origin := image.Point{}
	for _, d := range displays {
		if origin.In(d.Bounds.Rectangle()) {
			return d, nil
		}
	}
	return displays[0], nil
}
