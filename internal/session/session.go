package session

import (
	"context"
	"errors"
	"sync"

	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/store"
)

// ErrSelectionTimeout is returned when no selection arrives within the
// configured timeout
var ErrSelectionTimeout = errors.New("timed out waiting for selection")

// State is the state of an interactive capture session
type State string

const (
	StateIdle              State = "idle"
	StateHidingHost        State = "hiding_host"
	StateCapturingPreviews State = "capturing_previews"
	StateWindowsOpen       State = "windows_open"
	StateAwaitingSelection State = "awaiting_selection"
	StateFinalizing        State = "finalizing"
	StateCompleted         State = "completed"
	StateCancelled         State = "cancelled"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Selection chooses the displays that get an overlay. All, or no IDs,
// means every connected display; ID 0 means the primary display.
type Selection struct {
	All bool         `json:"all"`
	IDs []display.ID `json:"ids,omitempty"`
}

// Request starts an interactive capture
type Request struct {
	// Path is where the selected image is saved; empty generates a file
	Path     string    `json:"path"`
	Displays Selection `json:"displays"`
	HideHost bool      `json:"hide_host"`
}

// Result is the outcome of an interactive capture
type Result struct {
	Saved     store.Saved `json:"saved"`
	DisplayID display.ID  `json:"display_id,omitempty"`
	Cancelled bool        `json:"cancelled"`
}

// Event reports a session state transition
type Event struct {
	SessionID string
	State     State
	Err       error
}

// Session is one interactive capture
type Session struct {
	ID      string
	Request Request

	mu     sync.Mutex
	state  State
	result Result
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

func newSession(id string, req Request, cancel context.CancelFunc) *Session {
	return &Session{
		ID:      id,
		Request: req,
		state:   StateIdle,
		done:    make(chan struct{}),
		cancel:  cancel,
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure of a failed session
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has finished and cleaned up
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel aborts the session. Overlays are closed and the host restored.
func (s *Session) Cancel() {
	s.cancel()
}

// Wait blocks until the session finishes or ctx ends
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, s.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) setOutcome(st State, result Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.result = result
	s.err = err
}
