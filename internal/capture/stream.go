package capture

import (
	"image"
	"sync"
)

// GrabFunc captures one frame from a screen
type GrabFunc func() (*image.RGBA, error)

// grabStream turns a frame-grabbing function into a live Stream. The first
// grab runs in the background and marks the stream ready; later Frame calls
// grab again so frames stay live.
type grabStream struct {
	grab  GrabFunc
	ready chan struct{}

	mu      sync.Mutex
	err     error
	first   *image.RGBA
	stopped bool
}

// NewGrabStream starts a stream backed by grab
func NewGrabStream(grab GrabFunc) Stream {
	s := &grabStream{
		grab:  grab,
		ready: make(chan struct{}),
	}
	go s.start()
	return s
}

func (s *grabStream) start() {
	img, err := s.grab()

	s.mu.Lock()
	s.first = img
	s.err = err
	s.mu.Unlock()

	close(s.ready)
}

func (s *grabStream) Ready() <-chan struct{} {
	return s.ready
}

func (s *grabStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *grabStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStreamStopped
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.first != nil {
		img := s.first
		s.first = nil
		return img, nil
	}
	return s.grab()
}

func (s *grabStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.first = nil
	return nil
}
