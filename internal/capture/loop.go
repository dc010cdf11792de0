package capture

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loop calls a function on a fixed interval until stopped
type Loop struct {
	fn       func()
	mu       sync.Mutex
	stopped  bool
	stopChan chan struct{}
	done     chan struct{}
	frames   atomic.Uint64
}

// StartLoop calls fn once immediately and then on every tick of interval
func StartLoop(interval time.Duration, fn func()) *Loop {
	l := &Loop{
		fn:       fn,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	l.tick()
	go l.run(interval)
	return l
}

func (l *Loop) run(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	l.fn()
	l.frames.Add(1)
}

// Stop ends the loop. When Stop returns no call to fn is running and none
// will start. Calling Stop more than once is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	close(l.stopChan)
	l.mu.Unlock()

	<-l.done
}

// Frames returns the number of completed calls
func (l *Loop) Frames() uint64 {
	return l.frames.Load()
}
