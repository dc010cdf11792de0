package display

import "sync"

// Static is a Provider over a fixed display list. It backs headless runs
// and tests; Set swaps the list to simulate hot-plugging.
type Static struct {
	mu       sync.RWMutex
	displays []Display
	top      int
}

// NewStatic creates a provider reporting the given displays and reserved top offset
func NewStatic(reservedTop int, displays ...Display) *Static {
	s := &Static{top: reservedTop}
	s.Set(displays...)
	return s
}

// Set replaces the connected displays
func (s *Static) Set(displays ...Display) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displays = append([]Display(nil), displays...)
}

// Displays returns a copy of the configured displays
func (s *Static) Displays() ([]Display, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Display(nil), s.displays...), nil
}

// Primary returns the display flagged primary, else the one at the origin
func (s *Static) Primary() (Display, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return primaryOf(s.displays)
}

// ReservedTop returns the configured reserved top offset
func (s *Static) ReservedTop() (int, error) {
	return s.top, nil
}
