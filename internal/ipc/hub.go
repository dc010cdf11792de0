package ipc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

var (
	// ErrUnknownSession is returned for a session ID that is not registered
	ErrUnknownSession = errors.New("unknown capture session")

	// ErrAlreadyResolved is returned when a session already received its selection
	ErrAlreadyResolved = errors.New("selection already delivered")

	// ErrDuplicateSession is returned when registering an ID twice
	ErrDuplicateSession = errors.New("capture session already registered")
)

// Event is a session state change pushed to overlay content
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	State     string `json:"state,omitempty"`
	Error     string `json:"error,omitempty"`
}

type session struct {
	future *Future
	last   *Event
	subs   map[chan Event]struct{}
}

// Hub routes selections from overlay content to the waiting session and
// state events from the session back to its overlays
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*session)}
}

// Register creates the selection future for a session
func (h *Hub) Register(id string) (*Future, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	f := NewFuture()
	h.sessions[id] = &session{
		future: f,
		subs:   make(map[chan Event]struct{}),
	}

	logger.WithComponent("ipc").Debug().Str("session_id", id).Msg("Session registered")
	return f, nil
}

// Unregister removes a session and disconnects its subscribers
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return
	}
	for ch := range s.subs {
		close(ch)
	}
	delete(h.sessions, id)

	logger.WithComponent("ipc").Debug().Str("session_id", id).Msg("Session unregistered")
}

// Deliver resolves a session's future with sel
func (h *Hub) Deliver(id string, sel Selection) error {
	h.mu.Lock()
	s, ok := h.sessions[id]
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if !s.future.Resolve(sel) {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}

	logger.WithComponent("ipc").Info().
		Str("session_id", id).
		Bool("cancelled", sel.Cancelled()).
		Int("bytes", len(sel.Image)).
		Msg("Selection delivered")
	return nil
}

// Publish records ev as the session's latest state and sends it to all
// subscribers. Slow subscribers miss events.
func (h *Hub) Publish(id string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return
	}
	ev.SessionID = id
	s.last = &ev
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of the session's events, starting with the
// latest one. The channel is closed when the session is unregistered or
// cancel is called.
func (h *Hub) Subscribe(id string) (<-chan Event, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	ch := make(chan Event, 8)
	if s.last != nil {
		ch <- *s.last
	}
	s.subs[ch] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.sessions[id]; ok {
			if _, ok := cur.subs[ch]; ok {
				delete(cur.subs, ch)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}

// State returns the latest event published for a session
func (h *Hub) State(id string) (Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if s.last == nil {
		return Event{Type: "state", SessionID: id}, nil
	}
	return *s.last, nil
}

// Sessions returns the registered session IDs
func (h *Hub) Sessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	return ids
}
