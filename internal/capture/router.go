package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// Backend is a capture backend: it enumerates sources and opens streams
type Backend interface {
	SourceEnumerator
	MediaAPI

	// Name returns the backend name (e.g., "x11", "screenshot")
	Name() string

	// Close releases backend resources
	Close() error
}

// ErrNoBackend is returned when no capture backend could be started
var ErrNoBackend = errors.New("no capture backend available")

// Router routes capture requests to the configured backend
type Router struct {
	preferred string
	backend   Backend
	mu        sync.RWMutex
	started   bool
}

// NewRouter creates a router. preferred is "auto", "portal", "x11" or "screenshot".
func NewRouter(preferred string) *Router {
	if preferred == "" {
		preferred = "auto"
	}
	return &Router{preferred: preferred}
}

// Start initializes the backend
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	log := logger.WithComponent("capture-router")

	switch r.preferred {
	case "portal":
		portal, err := NewPortalBackend()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoBackend, err)
		}
		r.backend = portal
	case "x11":
		x11, err := NewX11Backend()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoBackend, err)
		}
		r.backend = x11
	case "screenshot":
		r.backend = NewScreenshotBackend()
	case "auto":
		r.backend = autoBackend()
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrNoBackend, r.preferred)
	}

	log.Info().Str("backend", r.backend.Name()).Msg("Capture backend initialized")
	r.started = true
	return nil
}

// autoBackend prefers the portal on Wayland sessions, then native X11,
// then the screenshot library
func autoBackend() Backend {
	log := logger.WithComponent("capture-router")

	if os.Getenv("XDG_SESSION_TYPE") == "wayland" || os.Getenv("WAYLAND_DISPLAY") != "" {
		portal, err := NewPortalBackend()
		if err == nil {
			return portal
		}
		log.Warn().Err(err).Msg("Portal backend not available")
	}

	x11, err := NewX11Backend()
	if err == nil {
		return x11
	}
	log.Warn().Err(err).Msg("X11 backend not available, falling back to screenshot backend")
	return NewScreenshotBackend()
}

// Stop closes the backend
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.backend != nil {
		err = r.backend.Close()
		r.backend = nil
	}
	r.started = false
	return err
}

// Name returns the active backend name
func (r *Router) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.backend == nil {
		return ""
	}
	return r.backend.Name()
}

// Sources delegates to the active backend
func (r *Router) Sources(ctx context.Context, kinds ...Kind) ([]Source, error) {
	b, err := r.active()
	if err != nil {
		return nil, err
	}
	return b.Sources(ctx, kinds...)
}

// Open delegates to the active backend
func (r *Router) Open(ctx context.Context, c Constraints) (Stream, error) {
	b, err := r.active()
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, c)
}

func (r *Router) active() (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.backend == nil {
		return nil, fmt.Errorf("%w: router not started", ErrNoBackend)
	}
	return r.backend, nil
}
