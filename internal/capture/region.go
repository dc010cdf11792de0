package capture

import (
	"image"

	"github.com/bryanchriswhite/snapdesk/internal/display"
)

// Region is the part of a display to capture, in display-local coordinates.
//
// Width and Height <= 0 mean the full display. AvailTop is derived by Plan
// and ignored on input.
type Region struct {
	X         int        `json:"x"`
	Y         int        `json:"y"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	DisplayID display.ID `json:"display_id"`
	AvailTop  int        `json:"avail_top"`
}

// FullRegion returns a region covering the whole display
func FullRegion(d display.Display) Region {
	return Region{
		DisplayID: d.ID,
		Width:     d.Bounds.Width,
		Height:    d.Bounds.Height,
	}
}

// Plan binds r to display d: it fills in the default size and computes
// AvailTop as the reserved top offset minus the display's vertical origin.
func Plan(d display.Display, r Region, reservedTop int) Region {
	r.DisplayID = d.ID
	if r.Width <= 0 {
		r.Width = d.Bounds.Width
	}
	if r.Height <= 0 {
		r.Height = d.Bounds.Height
	}
	r.AvailTop = reservedTop - d.Bounds.Y
	return r
}

// Offset is the number of rows shifted off the top of the surface when
// drawing. The reserved area only applies when it lies on this display,
// so values outside [0, Height) yield no offset.
func (r Region) Offset() int {
	if r.AvailTop < 0 || r.AvailTop >= r.Height {
		return 0
	}
	return r.AvailTop
}

// Rect returns the source rectangle within the display frame
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}
