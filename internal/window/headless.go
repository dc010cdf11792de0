package window

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// HeadlessHost is a Host with no window behind it. It tracks visibility so
// the orchestrator behaves the same with and without a window system.
type HeadlessHost struct {
	mu      sync.Mutex
	visible bool
	focused bool
}

// NewHeadlessHost creates a headless host
func NewHeadlessHost(visible bool) *HeadlessHost {
	return &HeadlessHost{visible: visible}
}

func (h *HeadlessHost) IsVisible() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible, nil
}

func (h *HeadlessHost) Hide() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible = false
	h.focused = false
	return nil
}

func (h *HeadlessHost) Show() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible = true
	return nil
}

func (h *HeadlessHost) Focus() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.focused = h.visible
	return nil
}

// Focused reports whether the host has focus
func (h *HeadlessHost) Focused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.focused
}

// HeadlessOpener opens overlays that exist only as records. Overlay content
// is expected to be rendered elsewhere, typically by a browser fetching the
// preview through the API.
type HeadlessOpener struct {
	fs     afero.Fs
	nextID atomic.Uint32

	mu   sync.Mutex
	open map[uint32]*HeadlessOverlay
}

// NewHeadlessOpener creates a headless opener reading overlay content from fs
func NewHeadlessOpener(fs afero.Fs) *HeadlessOpener {
	return &HeadlessOpener{fs: fs, open: make(map[uint32]*HeadlessOverlay)}
}

// OpenOverlay records an overlay. Loading succeeds once the preview file exists.
func (o *HeadlessOpener) OpenOverlay(ctx context.Context, spec OverlaySpec) (Overlay, error) {
	if spec.Bounds.Width <= 0 || spec.Bounds.Height <= 0 {
		return nil, fmt.Errorf("invalid overlay bounds %dx%d", spec.Bounds.Width, spec.Bounds.Height)
	}

	ov := &HeadlessOverlay{
		id:     o.nextID.Add(1),
		Spec:   spec,
		opener: o,
	}

	o.mu.Lock()
	o.open[ov.id] = ov
	o.mu.Unlock()

	logger.WithComponent("headless-overlay").Debug().
		Uint32("overlay_id", ov.id).
		Str("title", spec.Title).
		Msg("Overlay opened")

	return ov, nil
}

// Open returns the overlays that have not been closed
func (o *HeadlessOpener) Open() []*HeadlessOverlay {
	o.mu.Lock()
	defer o.mu.Unlock()

	overlays := make([]*HeadlessOverlay, 0, len(o.open))
	for _, ov := range o.open {
		overlays = append(overlays, ov)
	}
	return overlays
}

// HeadlessOverlay is an overlay opened by HeadlessOpener
type HeadlessOverlay struct {
	id     uint32
	Spec   OverlaySpec
	opener *HeadlessOpener

	mu      sync.Mutex
	shown   bool
	focused bool
	closed  bool
}

// Dismiss simulates the user dismissing the overlay window
func (w *HeadlessOverlay) Dismiss() {
	if w.Spec.OnCancel != nil {
		w.Spec.OnCancel()
	}
}

func (w *HeadlessOverlay) ID() uint32 {
	return w.id
}

func (w *HeadlessOverlay) WaitLoaded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.Spec.ContentPath == "" {
		return nil
	}
	if _, err := w.opener.fs.Stat(w.Spec.ContentPath); err != nil {
		return fmt.Errorf("failed to load overlay content: %w", err)
	}
	return nil
}

func (w *HeadlessOverlay) Show() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("overlay %d closed", w.id)
	}
	w.shown = true
	return nil
}

func (w *HeadlessOverlay) Focus() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("overlay %d closed", w.id)
	}
	w.focused = true
	return nil
}

func (w *HeadlessOverlay) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.shown = false
	w.mu.Unlock()

	w.opener.mu.Lock()
	delete(w.opener.open, w.id)
	w.opener.mu.Unlock()
	return nil
}

// Shown reports whether the overlay is visible
func (w *HeadlessOverlay) Shown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shown
}
