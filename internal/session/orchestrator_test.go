package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/snapdesk/internal/capture"
	"github.com/bryanchriswhite/snapdesk/internal/clipboard"
	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/ipc"
	"github.com/bryanchriswhite/snapdesk/internal/store"
	"github.com/bryanchriswhite/snapdesk/internal/window"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// fakeShooter encodes a blank PNG of the requested display's size
type fakeShooter struct {
	t        *testing.T
	displays display.Provider
	err      error

	mu    sync.Mutex
	shots []display.ID
}

func (f *fakeShooter) TakeScreenshot(ctx context.Context, r capture.Region) (*capture.Image, error) {
	f.mu.Lock()
	f.shots = append(f.shots, r.DisplayID)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	d, err := display.Resolve(f.displays, r.DisplayID)
	if err != nil {
		return nil, err
	}
	return &capture.Image{
		Data:   encodePNG(f.t, d.Size.Width, d.Size.Height),
		Format: imaging.PNG,
		Width:  d.Size.Width,
		Height: d.Size.Height,
	}, nil
}

// failingOpener fails for one display title
type failingOpener struct {
	*window.HeadlessOpener
	failTitle string
}

func (f *failingOpener) OpenOverlay(ctx context.Context, spec window.OverlaySpec) (window.Overlay, error) {
	if spec.Title == f.failTitle {
		return nil, errors.New("no window system")
	}
	return f.HeadlessOpener.OpenOverlay(ctx, spec)
}

// orderedHost records the order of host calls
type orderedHost struct {
	*window.HeadlessHost
	mu    sync.Mutex
	calls []string
}

func (h *orderedHost) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *orderedHost) Hide() error  { h.record("hide"); return h.HeadlessHost.Hide() }
func (h *orderedHost) Show() error  { h.record("show"); return h.HeadlessHost.Show() }
func (h *orderedHost) Focus() error { h.record("focus"); return h.HeadlessHost.Focus() }

func (h *orderedHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type fixture struct {
	fs        afero.Fs
	displays  *display.Static
	shooter   *fakeShooter
	opener    *window.HeadlessOpener
	host      *orderedHost
	clipboard *clipboard.Memory
	orch      *Orchestrator

	mu     sync.Mutex
	states map[string][]State
	await  chan string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		fs: afero.NewMemMapFs(),
		displays: display.NewStatic(0,
			display.Display{ID: 1, Bounds: display.Rect{Width: 1920, Height: 1080}, Size: display.Size{Width: 1920, Height: 1080}, Primary: true},
			display.Display{ID: 2, Bounds: display.Rect{X: 1920, Width: 1280, Height: 1024}, Size: display.Size{Width: 1280, Height: 1024}},
		),
		host:      &orderedHost{HeadlessHost: window.NewHeadlessHost(true)},
		clipboard: &clipboard.Memory{},
		states:    make(map[string][]State),
		await:     make(chan string, 4),
	}
	f.shooter = &fakeShooter{t: t, displays: f.displays}
	f.opener = window.NewHeadlessOpener(f.fs)

	if cfg.GOOS == "" {
		cfg.GOOS = "linux"
	}
	f.orch = New(Deps{
		Displays:  f.displays,
		Shooter:   f.shooter,
		Overlays:  f.opener,
		Host:      f.host,
		Store:     store.New(f.fs, "/previews", 90),
		Clipboard: f.clipboard,
	}, cfg)

	f.orch.Observe(func(ev Event) {
		f.mu.Lock()
		f.states[ev.SessionID] = append(f.states[ev.SessionID], ev.State)
		f.mu.Unlock()
		if ev.State == StateAwaitingSelection {
			f.await <- ev.SessionID
		}
	})
	return f
}

func (f *fixture) statesOf(id string) []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.states[id]...)
}

func (f *fixture) awaitSelection(t *testing.T) string {
	t.Helper()
	select {
	case id := <-f.await:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("session never reached awaiting_selection")
		return ""
	}
}

func (f *fixture) previews(t *testing.T) []string {
	t.Helper()
	entries, err := afero.ReadDir(f.fs, "/previews")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestInteractiveCaptureTwoDisplays(t *testing.T) {
	f := newFixture(t, Config{CopyToClipboard: true})

	s := f.orch.Start(context.Background(), Request{
		Path:     "/out/selection.png",
		Displays: Selection{All: true},
		HideHost: true,
	})

	id := f.awaitSelection(t)
	assert.Equal(t, s.ID, id)

	overlays := f.opener.Open()
	require.Len(t, overlays, 2)
	titles := map[string]display.Rect{}
	for _, ov := range overlays {
		assert.True(t, ov.Shown())
		assert.True(t, ov.Spec.AlwaysOnTop)
		titles[ov.Spec.Title] = ov.Spec.Bounds
	}
	assert.Equal(t, display.Rect{Width: 1920, Height: 1080}, titles["Capture Screen - 1"])
	assert.Equal(t, display.Rect{X: 1920, Width: 1280, Height: 1024}, titles["Capture Screen - 2"])
	assert.Len(t, f.previews(t), 2)

	visible, _ := f.host.IsVisible()
	assert.False(t, visible, "host hidden while overlays are open")

	selected := encodePNG(t, 300, 200)
	require.NoError(t, f.orch.Hub().Deliver(s.ID, ipc.Selection{Image: selected, DisplayID: 2}))

	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Cancelled)
	assert.Equal(t, "/out/selection.png", result.Saved.Path)
	assert.Equal(t, display.ID(2), result.DisplayID)

	saved, err := afero.ReadFile(f.fs, "/out/selection.png")
	require.NoError(t, err)
	assert.Equal(t, selected, saved)
	assert.Equal(t, selected, f.clipboard.Last())

	assert.Empty(t, f.opener.Open())
	assert.Empty(t, f.previews(t))
	assert.Equal(t, []string{"hide", "show", "focus"}, f.host.Calls())
	assert.True(t, f.host.Focused())

	assert.Equal(t, []State{
		StateHidingHost,
		StateCapturingPreviews,
		StateWindowsOpen,
		StateAwaitingSelection,
		StateFinalizing,
		StateCompleted,
	}, f.statesOf(s.ID))
	assert.Equal(t, StateCompleted, s.State())
	assert.Empty(t, f.orch.Hub().Sessions())
}

func TestInteractiveCaptureCancelledSelection(t *testing.T) {
	f := newFixture(t, Config{CopyToClipboard: true})

	s := f.orch.Start(context.Background(), Request{Path: "/out/x.png", HideHost: true})
	f.awaitSelection(t)

	require.NoError(t, f.orch.Hub().Deliver(s.ID, ipc.Selection{}))

	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, StateCancelled, s.State())

	exists, _ := afero.Exists(f.fs, "/out/x.png")
	assert.False(t, exists)
	assert.Nil(t, f.clipboard.Last())
	assert.Empty(t, f.opener.Open())
	assert.Equal(t, []string{"hide", "show", "focus"}, f.host.Calls())
}

func TestInteractiveCaptureHiddenHostNotRestored(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.host.HeadlessHost.Hide())

	s := f.orch.Start(context.Background(), Request{HideHost: true, Displays: Selection{IDs: []display.ID{2}}})
	f.awaitSelection(t)
	assert.NotContains(t, f.statesOf(s.ID), StateHidingHost)
	require.Len(t, f.opener.Open(), 1)

	require.NoError(t, f.orch.Hub().Deliver(s.ID, ipc.Selection{}))
	_, err := s.Wait(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.host.Calls())
}

func TestInteractiveCapturePrimaryByZeroID(t *testing.T) {
	f := newFixture(t, Config{})

	s := f.orch.Start(context.Background(), Request{Displays: Selection{IDs: []display.ID{display.Primary}}})
	f.awaitSelection(t)

	overlays := f.opener.Open()
	require.Len(t, overlays, 1)
	assert.Equal(t, "Capture Screen - 1", overlays[0].Spec.Title)

	s.Cancel()
	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInteractiveCaptureUnknownDisplay(t *testing.T) {
	f := newFixture(t, Config{})

	result, err := f.orch.OpenInteractiveCapture(context.Background(), "", Selection{IDs: []display.ID{9}}, true)
	assert.ErrorIs(t, err, display.ErrDisplayNotFound)
	assert.Equal(t, Result{}, result)
	assert.Empty(t, f.host.Calls(), "host untouched when displays cannot be resolved")
}

func TestInteractiveCaptureOverlayFailureCleansUp(t *testing.T) {
	f := newFixture(t, Config{})
	f.orch.deps.Overlays = &failingOpener{HeadlessOpener: f.opener, failTitle: "Capture Screen - 2"}

	_, err := f.orch.OpenInteractiveCapture(context.Background(), "/out/x.png", Selection{All: true}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display 2 overlay")

	assert.Empty(t, f.opener.Open())
	assert.Empty(t, f.previews(t))
	assert.Equal(t, []string{"hide", "show", "focus"}, f.host.Calls())
	assert.Empty(t, f.orch.Hub().Sessions())
}

func TestInteractiveCapturePreviewFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.shooter.err = capture.ErrStreamAcquisition

	_, err := f.orch.OpenInteractiveCapture(context.Background(), "", Selection{All: true}, false)
	assert.ErrorIs(t, err, capture.ErrStreamAcquisition)
	assert.Empty(t, f.opener.Open())
}

// failingSaveStore fails to persist one destination path
type failingSaveStore struct {
	*store.Store
	failPath string
}

func (s *failingSaveStore) Save(ctx context.Context, data []byte, path string) (store.Saved, error) {
	if path == s.failPath {
		return store.Saved{}, fmt.Errorf("%w: %s: disk full", store.ErrPersistence, path)
	}
	return s.Store.Save(ctx, data, path)
}

func TestInteractiveCaptureSaveFailureCleansUp(t *testing.T) {
	f := newFixture(t, Config{CopyToClipboard: true})
	f.orch.deps.Store = &failingSaveStore{Store: store.New(f.fs, "/previews", 90), failPath: "/out/full.png"}

	s := f.orch.Start(context.Background(), Request{
		Path:     "/out/full.png",
		Displays: Selection{All: true},
		HideHost: true,
	})
	f.awaitSelection(t)
	require.Len(t, f.previews(t), 2)

	require.NoError(t, f.orch.Hub().Deliver(s.ID, ipc.Selection{Image: encodePNG(t, 4, 4), DisplayID: 1}))

	result, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, store.ErrPersistence)
	assert.Equal(t, Result{}, result)
	assert.Equal(t, StateFailed, s.State())

	assert.Empty(t, f.opener.Open())
	assert.Empty(t, f.previews(t))
	assert.Equal(t, []string{"hide", "show", "focus"}, f.host.Calls())
	assert.Nil(t, f.clipboard.Last())
	assert.Empty(t, f.orch.Hub().Sessions())
}

func TestInteractiveCaptureDismissedOverlayCancels(t *testing.T) {
	f := newFixture(t, Config{})

	s := f.orch.Start(context.Background(), Request{Path: "/out/x.png", Displays: Selection{All: true}, HideHost: true})
	f.awaitSelection(t)

	overlays := f.opener.Open()
	require.Len(t, overlays, 2)
	overlays[1].Dismiss()
	overlays[0].Dismiss()

	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, StateCancelled, s.State())
	assert.Empty(t, f.opener.Open())
	assert.Equal(t, []string{"hide", "show", "focus"}, f.host.Calls())
}

func TestFinishedSessionIsForgotten(t *testing.T) {
	f := newFixture(t, Config{Retention: 20 * time.Millisecond})

	s := f.orch.Start(context.Background(), Request{})
	f.awaitSelection(t)
	require.NoError(t, f.orch.Hub().Deliver(s.ID, ipc.Selection{}))
	<-s.Done()

	require.Eventually(t, func() bool {
		_, ok := f.orch.Session(s.ID)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)
}

func TestInteractiveCaptureCancelRestoresHost(t *testing.T) {
	f := newFixture(t, Config{})

	s := f.orch.Start(context.Background(), Request{HideHost: true})
	f.awaitSelection(t)
	s.Cancel()

	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, s.State())
	assert.Empty(t, f.opener.Open())
	assert.Empty(t, f.previews(t))
	assert.Equal(t, []string{"hide", "show", "focus"}, f.host.Calls())
}

func TestInteractiveCaptureSelectionTimeout(t *testing.T) {
	f := newFixture(t, Config{SelectionTimeout: 20 * time.Millisecond})

	_, err := f.orch.OpenInteractiveCapture(context.Background(), "", Selection{All: true}, false)
	assert.ErrorIs(t, err, ErrSelectionTimeout)
	assert.Empty(t, f.opener.Open())
}

func TestInteractiveCaptureSecondDeliveryRejected(t *testing.T) {
	f := newFixture(t, Config{})

	s := f.orch.Start(context.Background(), Request{Path: "/out/a.png"})
	f.awaitSelection(t)

	hub := f.orch.Hub()
	first := hub.Deliver(s.ID, ipc.Selection{Image: encodePNG(t, 4, 4)})
	second := hub.Deliver(s.ID, ipc.Selection{})
	require.NoError(t, first)
	if second != nil {
		assert.True(t, errors.Is(second, ipc.ErrAlreadyResolved) || errors.Is(second, ipc.ErrUnknownSession))
	}

	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Cancelled)
}

func TestInteractiveCaptureSettleDelay(t *testing.T) {
	f := newFixture(t, Config{
		GOOS:   "windows",
		Settle: window.SettleDelays{"windows": 50 * time.Millisecond},
	})

	start := time.Now()
	s := f.orch.Start(context.Background(), Request{HideHost: true})
	f.awaitSelection(t)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, f.orch.Hub().Deliver(s.ID, ipc.Selection{}))
	_, err := s.Wait(context.Background())
	require.NoError(t, err)
}

func TestDebugOverlaysNotOnTop(t *testing.T) {
	f := newFixture(t, Config{Debug: true})

	s := f.orch.Start(context.Background(), Request{})
	f.awaitSelection(t)
	for _, ov := range f.opener.Open() {
		assert.False(t, ov.Spec.AlwaysOnTop)
	}
	s.Cancel()
	<-s.Done()
}

func TestSaveScreenshotImageHidesAndRestoresHost(t *testing.T) {
	f := newFixture(t, Config{})

	saved, err := f.orch.SaveScreenshotImage(context.Background(), capture.Region{DisplayID: 2}, "/out/shot.jpg", true)
	require.NoError(t, err)
	assert.Equal(t, "/out/shot.jpg", saved.Path)

	data, err := afero.ReadFile(f.fs, "/out/shot.jpg")
	require.NoError(t, err)
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	assert.Equal(t, []string{"hide", "show"}, f.host.Calls())
	visible, _ := f.host.IsVisible()
	assert.True(t, visible)
}

func TestSaveScreenshotImageRestoresHostOnFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.shooter.err = capture.ErrSourceNotFound

	_, err := f.orch.SaveScreenshotImage(context.Background(), capture.Region{}, "", true)
	assert.ErrorIs(t, err, capture.ErrSourceNotFound)
	assert.Equal(t, []string{"hide", "show"}, f.host.Calls())
}

func TestSaveScreenshotImagePreviewPath(t *testing.T) {
	f := newFixture(t, Config{})

	saved, err := f.orch.SaveScreenshotImage(context.Background(), capture.Region{}, "", false)
	require.NoError(t, err)
	assert.Contains(t, saved.Path, "/previews/preview-")
	assert.Empty(t, f.host.Calls())
}
