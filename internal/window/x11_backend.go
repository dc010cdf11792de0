package window

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// X11Host controls the host window on an X11 desktop
type X11Host struct {
	conn   *xgb.Conn
	root   xproto.Window
	window xproto.Window
	mu     sync.Mutex
}

// NewX11Host locates the host window. pattern is a regular expression
// matched against window titles and classes in _NET_CLIENT_LIST; an empty
// pattern selects the window that has input focus.
func NewX11Host(pattern string) (*X11Host, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	h := &X11Host{
		conn: conn,
		root: xproto.Setup(conn).DefaultScreen(conn).Root,
	}

	win, err := h.findWindow(pattern)
	if err != nil {
		conn.Close()
		return nil, err
	}
	h.window = win

	logger.WithComponent("x11-host").Info().
		Uint32("window_id", uint32(win)).
		Str("pattern", pattern).
		Msg("Host window located")

	return h, nil
}

// Close closes the X11 connection
func (h *X11Host) Close() error {
	h.conn.Close()
	return nil
}

// WindowID returns the host window ID
func (h *X11Host) WindowID() uint32 {
	return uint32(h.window)
}

// IsVisible reports whether the host window is mapped and viewable
func (h *X11Host) IsVisible() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs, err := xproto.GetWindowAttributes(h.conn, h.window).Reply()
	if err != nil {
		return false, fmt.Errorf("failed to get window attributes: %w", err)
	}
	return attrs.MapState == xproto.MapStateViewable, nil
}

// Hide unmaps the host window
func (h *X11Host) Hide() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := xproto.UnmapWindowChecked(h.conn, h.window).Check(); err != nil {
		return fmt.Errorf("failed to unmap window: %w", err)
	}
	h.conn.Sync()
	return nil
}

// Show maps the host window
func (h *X11Host) Show() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := xproto.MapWindowChecked(h.conn, h.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}
	h.conn.Sync()
	return nil
}

// Focus raises the host window and gives it input focus
func (h *X11Host) Focus() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return focusWindow(h.conn, h.window)
}

// findWindow returns the first client window whose title or class matches
// pattern, or the focused window when pattern is empty
func (h *X11Host) findWindow(pattern string) (xproto.Window, error) {
	if pattern == "" {
		reply, err := xproto.GetInputFocus(h.conn).Reply()
		if err != nil {
			return 0, fmt.Errorf("failed to get input focus: %w", err)
		}
		if reply.Focus == xproto.WindowNone || reply.Focus == h.root {
			return 0, fmt.Errorf("%w: no focused window", ErrWindowNotFound)
		}
		return reply.Focus, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid host window pattern: %w", err)
	}

	clientListAtom, err := getAtom(h.conn, "_NET_CLIENT_LIST")
	if err != nil {
		return 0, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}

	reply, err := xproto.GetProperty(h.conn, false, h.root, clientListAtom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}

	for i := 0; i+4 <= len(reply.Value); i += 4 {
		win := xproto.Window(xgb.Get32(reply.Value[i:]))
		title := windowTitle(h.conn, win)
		class := windowClass(h.conn, win)
		if re.MatchString(title) || re.MatchString(class) {
			return win, nil
		}
	}
	return 0, fmt.Errorf("%w: no window matches %q", ErrWindowNotFound, pattern)
}

func focusWindow(conn *xgb.Conn, win xproto.Window) error {
	if err := xproto.ConfigureWindowChecked(conn, win,
		xproto.ConfigWindowStackMode, []uint32{xproto.StackModeAbove}).Check(); err != nil {
		return fmt.Errorf("failed to raise window: %w", err)
	}
	if err := xproto.SetInputFocusChecked(conn, xproto.InputFocusPointerRoot, win,
		xproto.TimeCurrentTime).Check(); err != nil {
		return fmt.Errorf("failed to set input focus: %w", err)
	}
	conn.Sync()
	return nil
}

func windowTitle(conn *xgb.Conn, win xproto.Window) string {
	for _, name := range []string{"_NET_WM_NAME", "WM_NAME"} {
		atom, err := getAtom(conn, name)
		if err != nil {
			continue
		}
		if title, err := getProperty(conn, win, atom); err == nil {
			return title
		}
	}
	return ""
}

// windowClass returns the class part of WM_CLASS (instance\0class\0)
func windowClass(conn *xgb.Conn, win xproto.Window) string {
	atom, err := getAtom(conn, "WM_CLASS")
	if err != nil {
		return ""
	}
	raw, err := getProperty(conn, win, atom)
	if err != nil {
		return ""
	}
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return parts[0]
}

// getAtom gets an atom ID by name
func getAtom(conn *xgb.Conn, name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

// getProperty gets a property value as a string
func getProperty(conn *xgb.Conn, win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(conn, false, win, atom,
		xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}
