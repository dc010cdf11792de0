package capture

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// NewSurface allocates a transparent drawing surface sized to the region
func NewSurface(r Region) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
}

// DrawFrame copies the region's source rectangle of frame onto surface,
// shifted up by the region offset. Rows shifted above the surface are
// discarded and rows left uncovered keep their previous content.
func DrawFrame(surface *image.RGBA, frame image.Image, r Region) {
	src := r.Rect().Add(frame.Bounds().Min)
	xdraw.Copy(surface, image.Pt(0, -r.Offset()), frame, src, xdraw.Src, nil)
}
