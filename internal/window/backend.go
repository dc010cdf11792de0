package window

import (
	"context"
	"errors"
	"time"

	"github.com/bryanchriswhite/snapdesk/internal/display"
)

// ErrWindowNotFound is returned when the host window cannot be located
var ErrWindowNotFound = errors.New("window not found")

// Host is the application's own main window, hidden while capturing so it
// does not appear in screenshots
type Host interface {
	IsVisible() (bool, error)
	Hide() error
	Show() error
	Focus() error
}

// OverlaySpec describes a full-screen capture overlay
type OverlaySpec struct {
	Title       string
	Bounds      display.Rect
	AlwaysOnTop bool

	// ContentPath is the preview image shown by the overlay
	ContentPath string

	// OnCancel is called when the user dismisses the overlay from the
	// window itself, such as with Escape
	OnCancel func()
}

// Overlay is a frameless window covering one display
type Overlay interface {
	ID() uint32

	// WaitLoaded blocks until the overlay content is ready to be shown
	WaitLoaded(ctx context.Context) error

	Show() error
	Focus() error

	// Close destroys the window. Calling Close more than once is a no-op.
	Close() error
}

// Opener creates overlay windows
type Opener interface {
	OpenOverlay(ctx context.Context, spec OverlaySpec) (Overlay, error)
}

// SettleDelays maps an OS family (runtime.GOOS) to the time the window
// system needs before a hidden window is really gone from the screen
type SettleDelays map[string]time.Duration

// DefaultSettleDelays returns the delays used when none are configured
func DefaultSettleDelays() SettleDelays {
	return SettleDelays{"windows": 600 * time.Millisecond}
}

// For returns the delay for goos, or zero when none applies
func (s SettleDelays) For(goos string) time.Duration {
	if s == nil {
		return 0
	}
	return s[goos]
}
