package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/output"
)

func testDisplay(id display.ID, x, y, w, h int) display.Display {
	return display.Display{
		ID:     id,
		Bounds: display.Rect{X: x, Y: y, Width: w, Height: h},
		Size:   display.Size{Width: w, Height: h},
	}
}

// fakeStream serves a solid frame of a fixed size
type fakeStream struct {
	frame   image.Image
	ready   chan struct{}
	err     error
	stops   atomic.Int32
	reads   atomic.Int32
	stopped atomic.Bool
}

func newFakeStream(w, h int, c color.Color) *fakeStream {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	s := &fakeStream{frame: img, ready: make(chan struct{})}
	close(s.ready)
	return s
}

func (s *fakeStream) Ready() <-chan struct{} { return s.ready }
func (s *fakeStream) Err() error             { return s.err }

func (s *fakeStream) Frame() (image.Image, error) {
	if s.stopped.Load() {
		return nil, ErrStreamStopped
	}
	s.reads.Add(1)
	return s.frame, nil
}

func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	s.stopped.Store(true)
	return nil
}

// fakeMedia lists one screen source per entry in sizes and opens fake streams
type fakeMedia struct {
	mu      sync.Mutex
	sizes   []image.Point
	enumErr error
	fail    map[string]error
	pending map[string]bool
	opened  []*fakeStream
	calls   []Constraints
}

func newFakeMedia(displays ...display.Display) *fakeMedia {
	m := &fakeMedia{fail: map[string]error{}, pending: map[string]bool{}}
	for _, d := range displays {
		m.sizes = append(m.sizes, image.Pt(d.Size.Width, d.Size.Height))
	}
	return m
}

func (m *fakeMedia) Sources(ctx context.Context, kinds ...Kind) ([]Source, error) {
	if m.enumErr != nil {
		return nil, m.enumErr
	}
	sources := []Source{{ID: "window:42:0", Name: "Editor", Kind: KindWindow}}
	return append(sources, screenSources(len(m.sizes))...), nil
}

func (m *fakeMedia) Open(ctx context.Context, c Constraints) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, c)
	if err := m.fail[c.SourceID]; err != nil {
		return nil, err
	}

	index, err := parseScreenSourceID(c.SourceID)
	if err != nil {
		return nil, err
	}
	size := m.sizes[index]
	if size.X != c.Width || size.Y != c.Height {
		return nil, fmt.Errorf("constraints %dx%d rejected", c.Width, c.Height)
	}

	s := newFakeStream(size.X, size.Y, color.RGBA{R: uint8(index * 40), G: 200, B: 10, A: 255})
	if m.pending[c.SourceID] {
		s.ready = make(chan struct{})
	}
	m.opened = append(m.opened, s)
	return s, nil
}

func (m *fakeMedia) streams() []*fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeStream(nil), m.opened...)
}

// fakeEncoder counts frames and returns a fixed payload
type fakeEncoder struct {
	mu       sync.Mutex
	cfg      output.Config
	frames   int
	last     time.Duration
	frameErr error
	ended    bool
}

var errFakeEncoder = errors.New("encoder broke")

func (e *fakeEncoder) Begin(cfg output.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	return nil
}

func (e *fakeEncoder) EncodeFrame(frame *image.RGBA, ts time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frameErr != nil {
		return e.frameErr
	}
	e.frames++
	e.last = ts
	return nil
}

func (e *fakeEncoder) End() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = true
	return []byte("video"), nil
}

func (e *fakeEncoder) MIMEType() string { return "video/fake" }
func (e *fakeEncoder) Name() string     { return "fake" }

func (e *fakeEncoder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}
