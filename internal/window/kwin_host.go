package window

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

const kwinService = "org.kde.KWin"

// kdotoolFunc runs kdotool with args and returns its trimmed stdout
type kdotoolFunc func(args ...string) (string, error)

func runKdotool(args ...string) (string, error) {
	output, err := exec.Command("kdotool", args...).Output()
	if err != nil {
		return "", fmt.Errorf("kdotool %s failed: %w", args[0], err)
	}
	return strings.TrimSpace(string(output)), nil
}

// KWinHost controls the host window on a KDE Plasma Wayland session, where
// X11 clients cannot map or unmap other clients' windows. Hiding minimizes
// the window through kdotool.
type KWinHost struct {
	kdotool kdotoolFunc
	window  string

	mu     sync.Mutex
	hidden bool
}

// NewKWinHost locates the host window. pattern is a regular expression
// matched against window titles, then classes; an empty pattern selects
// the active window.
func NewKWinHost(pattern string) (*KWinHost, error) {
	if err := checkKWin(); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath("kdotool"); err != nil {
		return nil, fmt.Errorf("kdotool not found: %w", err)
	}
	return newKWinHost(pattern, runKdotool)
}

func newKWinHost(pattern string, kdotool kdotoolFunc) (*KWinHost, error) {
	h := &KWinHost{kdotool: kdotool}

	win, err := h.findWindow(pattern)
	if err != nil {
		return nil, err
	}
	h.window = win

	logger.WithComponent("kwin-host").Info().
		Str("window_id", win).
		Str("pattern", pattern).
		Msg("Host window located")

	return h, nil
}

// checkKWin verifies that KWin is running on the session bus
func checkKWin() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return fmt.Errorf("failed to list D-Bus names: %w", err)
	}
	for _, name := range names {
		if name == kwinService {
			return nil
		}
	}
	return fmt.Errorf("KWin service not found on D-Bus")
}

func (h *KWinHost) findWindow(pattern string) (string, error) {
	if pattern == "" {
		win, err := h.kdotool("getactivewindow")
		if err != nil {
			return "", err
		}
		if win == "" {
			return "", fmt.Errorf("%w: no active window", ErrWindowNotFound)
		}
		return win, nil
	}

	if _, err := regexp.Compile(pattern); err != nil {
		return "", fmt.Errorf("invalid host window pattern: %w", err)
	}

	for _, field := range []string{"--name", "--class"} {
		output, err := h.kdotool("search", field, pattern)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(strings.NewReader(output))
		for scanner.Scan() {
			if id := strings.TrimSpace(scanner.Text()); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no window matches %q", ErrWindowNotFound, pattern)
}

// WindowID returns the KWin window UUID
func (h *KWinHost) WindowID() string {
	return h.window
}

// IsVisible reports whether the window is not minimized by this host.
// kdotool cannot query the minimized state, so it is tracked locally.
func (h *KWinHost) IsVisible() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.hidden, nil
}

func (h *KWinHost) Hide() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.kdotool("windowminimize", h.window); err != nil {
		return err
	}
	h.hidden = true
	return nil
}

// Show restores the window. KWin restores minimized windows on activation.
func (h *KWinHost) Show() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.kdotool("windowactivate", h.window); err != nil {
		return err
	}
	h.hidden = false
	return nil
}

func (h *KWinHost) Focus() error {
	_, err := h.kdotool("windowactivate", h.window)
	return err
}
