package ipc

import (
	"context"
	"sync"

	"github.com/bryanchriswhite/snapdesk/internal/display"
)

// Selection is the result sent by overlay content once the user is done.
// A nil Image means the user cancelled.
type Selection struct {
	Image     []byte     `json:"image,omitempty"`
	DisplayID display.ID `json:"display_id,omitempty"`
}

// Cancelled reports whether the selection carries no image
func (s Selection) Cancelled() bool {
	return len(s.Image) == 0
}

// Future is a one-shot selection slot. The first Resolve wins; later calls
// are rejected.
type Future struct {
	once sync.Once
	done chan struct{}
	sel  Selection
}

// NewFuture creates an unresolved future
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve stores sel and wakes all waiters. It returns false when the
// future was already resolved.
func (f *Future) Resolve(sel Selection) bool {
	resolved := false
	f.once.Do(func() {
		f.sel = sel
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved or ctx ends
func (f *Future) Wait(ctx context.Context) (Selection, error) {
	select {
	case <-f.done:
		return f.sel, nil
	case <-ctx.Done():
		return Selection{}, ctx.Err()
	}
}
