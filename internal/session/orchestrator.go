package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/snapdesk/internal/capture"
	"github.com/bryanchriswhite/snapdesk/internal/clipboard"
	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/ipc"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
	"github.com/bryanchriswhite/snapdesk/internal/notify"
	"github.com/bryanchriswhite/snapdesk/internal/store"
	"github.com/bryanchriswhite/snapdesk/internal/window"
)

// Shooter takes still captures
type Shooter interface {
	TakeScreenshot(ctx context.Context, r capture.Region) (*capture.Image, error)
}

// Persister saves and removes image files
type Persister interface {
	Save(ctx context.Context, data []byte, path string) (store.Saved, error)
	Discard(path string) error
}

// Deps are the collaborators of an Orchestrator. Host, Clipboard and
// Notifier are optional.
type Deps struct {
	Displays  display.Provider
	Shooter   Shooter
	Overlays  window.Opener
	Host      window.Host
	Store     Persister
	Hub       *ipc.Hub
	Clipboard clipboard.Writer
	Notifier  notify.Notifier
}

// Config tunes an Orchestrator
type Config struct {
	// Settle is how long to wait after hiding the host, per OS family
	Settle window.SettleDelays

	// GOOS selects the settle delay; empty means runtime.GOOS
	GOOS string

	// Debug keeps overlays below other windows
	Debug bool

	// SelectionTimeout bounds the wait for a selection; zero waits forever
	SelectionTimeout time.Duration

	CopyToClipboard bool
	Notify          bool

	// Retention is how long a finished session stays queryable through
	// Session; zero means DefaultRetention
	Retention time.Duration
}

// DefaultRetention keeps finished sessions long enough for clients to
// collect their result
const DefaultRetention = 10 * time.Minute

// Orchestrator runs screenshot and interactive capture flows
type Orchestrator struct {
	deps     Deps
	cfg      Config
	observer func(Event)

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an orchestrator
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if deps.Hub == nil {
		deps.Hub = ipc.NewHub()
	}
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Hub returns the selection hub overlays deliver to
func (o *Orchestrator) Hub() *ipc.Hub {
	return o.deps.Hub
}

// Observe registers fn to receive every state transition
func (o *Orchestrator) Observe(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer = fn
}

// Session returns a session started by this orchestrator
func (o *Orchestrator) Session(id string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	return s, ok
}

// SaveScreenshotImage captures a region and saves it to path (empty path
// generates a preview file). With hideHost the visible host window is hidden
// during the capture and shown again before saving.
func (o *Orchestrator) SaveScreenshotImage(ctx context.Context, r capture.Region, path string, hideHost bool) (store.Saved, error) {
	log := logger.WithComponent("session")

	hidden, err := o.hideHost(ctx, hideHost)
	if err != nil {
		return store.Saved{}, err
	}

	img, err := o.deps.Shooter.TakeScreenshot(ctx, r)

	if hidden {
		if showErr := o.deps.Host.Show(); showErr != nil {
			log.Warn().Err(showErr).Msg("Failed to restore host window")
		}
	}
	if err != nil {
		return store.Saved{}, err
	}

	return o.deps.Store.Save(ctx, img.Data, path)
}

// OpenInteractiveCapture opens an overlay per selected display and waits
// for the selection. It returns once every overlay is closed and the host
// window restored.
func (o *Orchestrator) OpenInteractiveCapture(ctx context.Context, path string, displays Selection, hideHost bool) (Result, error) {
	s := o.Start(ctx, Request{Path: path, Displays: displays, HideHost: hideHost})
	<-s.Done()
	return s.Wait(context.Background())
}

// Start begins an interactive capture in the background. The session is
// registered with the hub before Start returns, so a selection can be
// delivered as soon as the caller knows the session ID.
func (o *Orchestrator) Start(ctx context.Context, req Request) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := newSession(uuid.NewString(), req, cancel)

	o.mu.Lock()
	o.sessions[s.ID] = s
	o.mu.Unlock()

	future, err := o.deps.Hub.Register(s.ID)
	if err != nil {
		o.transition(s, StateFailed, err)
		s.setOutcome(StateFailed, Result{}, err)
		cancel()
		close(s.done)
		o.forget(s.ID)
		return s
	}

	go o.run(ctx, s, future)
	return s
}

// cleanup tracks what a session must undo on exit
type cleanup struct {
	mu         sync.Mutex
	overlays   []window.Overlay
	previews   []string
	hostHidden bool
	closed     bool
}

func (c *cleanup) addOverlay(ov window.Overlay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlays = append(c.overlays, ov)
}

func (c *cleanup) addPreview(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previews = append(c.previews, path)
}

// closeWindows closes every overlay and restores the host. Runs once.
func (o *Orchestrator) closeWindows(c *cleanup, log *zerolog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for _, ov := range c.overlays {
		if err := ov.Close(); err != nil {
			log.Warn().Err(err).Uint32("overlay_id", ov.ID()).Msg("Failed to close overlay")
		}
	}

	if c.hostHidden {
		if err := o.deps.Host.Show(); err != nil {
			log.Warn().Err(err).Msg("Failed to restore host window")
		}
		if err := o.deps.Host.Focus(); err != nil {
			log.Warn().Err(err).Msg("Failed to focus host window")
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, s *Session, future *ipc.Future) {
	log := logger.WithSession("session", s.ID)
	c := &cleanup{}

	result, err := o.interact(ctx, s, future, c, log)

	o.closeWindows(c, log)
	for _, path := range c.previews {
		if err := o.deps.Store.Discard(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove preview")
		}
	}

	final := StateCompleted
	switch {
	case err != nil:
		final = StateFailed
		log.Error().Err(err).Msg("Interactive capture failed")
	case result.Cancelled:
		final = StateCancelled
	}
	o.transition(s, final, err)
	s.setOutcome(final, result, err)

	o.deps.Hub.Unregister(s.ID)
	s.cancel()
	close(s.done)
	o.forget(s.ID)
}

// forget drops a finished session once the retention period has passed
func (o *Orchestrator) forget(id string) {
	time.AfterFunc(o.cfg.Retention, func() {
		o.mu.Lock()
		delete(o.sessions, id)
		o.mu.Unlock()
	})
}

func (o *Orchestrator) interact(ctx context.Context, s *Session, future *ipc.Future, c *cleanup, log *zerolog.Logger) (Result, error) {
	displays, err := o.selectDisplays(s.Request.Displays)
	if err != nil {
		return Result{}, err
	}

	if s.Request.HideHost && o.deps.Host != nil {
		if visible, err := o.deps.Host.IsVisible(); err != nil {
			return Result{}, fmt.Errorf("failed to query host window: %w", err)
		} else if visible {
			o.transition(s, StateHidingHost, nil)
			c.hostHidden = true
			if err := o.deps.Host.Hide(); err != nil {
				return Result{}, fmt.Errorf("failed to hide host window: %w", err)
			}
			if err := o.settle(ctx); err != nil {
				return Result{}, err
			}
		}
	}

	o.transition(s, StateCapturingPreviews, nil)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range displays {
		d := d
		g.Go(func() error {
			return o.openOverlay(gctx, s.ID, d, c)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	o.transition(s, StateWindowsOpen, nil)
	o.transition(s, StateAwaitingSelection, nil)

	waitCtx := ctx
	if o.cfg.SelectionTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.cfg.SelectionTimeout)
		defer cancel()
	}

	sel, err := future.Wait(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %v", ErrSelectionTimeout, o.cfg.SelectionTimeout)
		}
		return Result{}, err
	}

	o.transition(s, StateFinalizing, nil)
	o.closeWindows(c, log)

	if sel.Cancelled() {
		log.Info().Msg("Capture cancelled by user")
		return Result{Cancelled: true}, nil
	}

	saved, err := o.deps.Store.Save(ctx, sel.Image, s.Request.Path)
	if err != nil {
		return Result{}, err
	}

	if o.cfg.CopyToClipboard && o.deps.Clipboard != nil {
		if err := o.deps.Clipboard.WriteImage(sel.Image); err != nil {
			log.Warn().Err(err).Msg("Failed to copy capture to clipboard")
		}
	}
	if o.cfg.Notify && o.deps.Notifier != nil {
		n := notify.Notification{
			Summary: "Screen captured",
			Body:    saved.Path,
			Icon:    saved.Path,
		}
		if err := o.deps.Notifier.Notify(ctx, n); err != nil {
			log.Warn().Err(err).Msg("Failed to send notification")
		}
	}

	log.Info().Str("path", saved.Path).Int("bytes", saved.Bytes).Msg("Capture saved")
	return Result{Saved: saved, DisplayID: sel.DisplayID}, nil
}

// openOverlay captures a preview of d, saves it and shows it in a focused
// overlay covering d
func (o *Orchestrator) openOverlay(ctx context.Context, id string, d display.Display, c *cleanup) error {
	img, err := o.deps.Shooter.TakeScreenshot(ctx, capture.Region{DisplayID: d.ID})
	if err != nil {
		return fmt.Errorf("display %d preview: %w", d.ID, err)
	}

	preview, err := o.deps.Store.Save(ctx, img.Data, "")
	if err != nil {
		return fmt.Errorf("display %d preview: %w", d.ID, err)
	}
	c.addPreview(preview.Path)

	ov, err := o.deps.Overlays.OpenOverlay(ctx, window.OverlaySpec{
		Title:       fmt.Sprintf("Capture Screen - %d", d.ID),
		Bounds:      d.Bounds,
		AlwaysOnTop: !o.cfg.Debug,
		ContentPath: preview.Path,
		OnCancel: func() {
			if err := o.deps.Hub.Deliver(id, ipc.Selection{}); err != nil {
				logger.WithSession("session", id).Debug().Err(err).Msg("Overlay cancel ignored")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("display %d overlay: %w", d.ID, err)
	}
	c.addOverlay(ov)

	if err := ov.WaitLoaded(ctx); err != nil {
		return fmt.Errorf("display %d overlay: %w", d.ID, err)
	}
	if err := ov.Show(); err != nil {
		return fmt.Errorf("display %d overlay: %w", d.ID, err)
	}
	if err := ov.Focus(); err != nil {
		return fmt.Errorf("display %d overlay: %w", d.ID, err)
	}
	return nil
}

// selectDisplays resolves a Selection against the connected displays
func (o *Orchestrator) selectDisplays(sel Selection) ([]display.Display, error) {
	if sel.All || len(sel.IDs) == 0 {
		displays, err := o.deps.Displays.Displays()
		if err != nil {
			return nil, fmt.Errorf("failed to list displays: %w", err)
		}
		if len(displays) == 0 {
			return nil, fmt.Errorf("%w: no displays connected", display.ErrDisplayNotFound)
		}
		return displays, nil
	}

	displays := make([]display.Display, 0, len(sel.IDs))
	for _, id := range sel.IDs {
		d, err := display.Resolve(o.deps.Displays, id)
		if err != nil {
			return nil, err
		}
		displays = append(displays, d)
	}
	return displays, nil
}

// hideHost hides the host window when requested and visible, then waits
// for the window system to settle
func (o *Orchestrator) hideHost(ctx context.Context, requested bool) (bool, error) {
	if !requested || o.deps.Host == nil {
		return false, nil
	}
	visible, err := o.deps.Host.IsVisible()
	if err != nil {
		return false, fmt.Errorf("failed to query host window: %w", err)
	}
	if !visible {
		return false, nil
	}
	if err := o.deps.Host.Hide(); err != nil {
		return false, fmt.Errorf("failed to hide host window: %w", err)
	}
	if err := o.settle(ctx); err != nil {
		_ = o.deps.Host.Show()
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) settle(ctx context.Context) error {
	delay := o.cfg.Settle.For(o.cfg.GOOS)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) transition(s *Session, st State, err error) {
	s.setState(st)

	ev := logger.WithSession("session", s.ID).Debug()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("state", string(st)).Msg("Session state changed")

	hubEvent := ipc.Event{Type: "state", State: string(st)}
	if err != nil {
		hubEvent.Error = err.Error()
	}
	o.deps.Hub.Publish(s.ID, hubEvent)

	o.mu.Lock()
	observer := o.observer
	o.mu.Unlock()
	if observer != nil {
		observer(Event{SessionID: s.ID, State: st, Err: err})
	}
}
