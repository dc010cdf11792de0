package window

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// keysymEscape is XK_Escape
const keysymEscape = 0xff1b

// X11Opener opens override-redirect overlay windows showing a preview image
type X11Opener struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	mu     sync.Mutex

	// escape holds the keycodes producing Escape
	escape map[xproto.Keycode]bool

	windowsMu sync.Mutex
	windows   map[xproto.Window]*x11Overlay
}

// NewX11Opener connects to the X server and starts reading its events
func NewX11Opener() (*X11Opener, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	o := &X11Opener{
		conn:    conn,
		screen:  xproto.Setup(conn).DefaultScreen(conn),
		windows: make(map[xproto.Window]*x11Overlay),
	}

	o.escape, err = keycodesFor(conn, keysymEscape)
	if err != nil {
		logger.WithComponent("x11-overlay").Warn().Err(err).
			Msg("Failed to read keyboard mapping, Escape will not cancel")
	}

	go o.eventLoop()
	return o, nil
}

// keycodesFor returns the keycodes whose mapping includes sym
func keycodesFor(conn *xgb.Conn, sym xproto.Keysym) (map[xproto.Keycode]bool, error) {
	setup := xproto.Setup(conn)
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)

	reply, err := xproto.GetKeyboardMapping(conn, setup.MinKeycode, count).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get keyboard mapping: %w", err)
	}

	codes := make(map[xproto.Keycode]bool)
	per := int(reply.KeysymsPerKeycode)
	for i, ks := range reply.Keysyms {
		if ks == sym && per > 0 {
			codes[setup.MinKeycode+xproto.Keycode(i/per)] = true
		}
	}
	return codes, nil
}

// eventLoop drains the connection's events until it is closed. Unread
// events would eventually stall every request on the connection.
func (o *X11Opener) eventLoop() {
	log := logger.WithComponent("x11-overlay")

	for {
		ev, err := o.conn.WaitForEvent()
		if ev == nil && err == nil {
			log.Debug().Msg("X11 connection closed, event loop stopped")
			return
		}
		if err != nil {
			log.Debug().Err(err).Msg("X11 error event")
			continue
		}
		o.handleEvent(ev)
	}
}

// handleEvent cancels the capture when Escape is pressed on an overlay
func (o *X11Opener) handleEvent(ev xgb.Event) {
	press, ok := ev.(xproto.KeyPressEvent)
	if !ok || !o.escape[press.Detail] {
		return
	}

	o.windowsMu.Lock()
	w, ok := o.windows[press.Event]
	o.windowsMu.Unlock()

	if ok && w.spec.OnCancel != nil {
		logger.WithComponent("x11-overlay").Debug().
			Uint32("window_id", uint32(press.Event)).
			Msg("Overlay dismissed with Escape")
		go w.spec.OnCancel()
	}
}

// Close closes the X11 connection
func (o *X11Opener) Close() error {
	o.conn.Close()
	return nil
}

// OpenOverlay creates an unmapped overlay at spec.Bounds and starts loading
// its preview into a background pixmap
func (o *X11Opener) OpenOverlay(ctx context.Context, spec OverlaySpec) (Overlay, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	log := logger.WithComponent("x11-overlay")

	win, err := xproto.NewWindowId(o.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create window ID: %w", err)
	}

	// Override-redirect windows bypass the window manager entirely, so the
	// overlay stays frameless at exactly the display bounds
	mask := uint32(xproto.CwBackPixel | xproto.CwOverrideRedirect | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		1,
		xproto.EventMaskExposure | xproto.EventMaskKeyPress,
	}

	err = xproto.CreateWindowChecked(
		o.conn,
		o.screen.RootDepth,
		win,
		o.screen.Root,
		int16(spec.Bounds.X), int16(spec.Bounds.Y),
		uint16(spec.Bounds.Width), uint16(spec.Bounds.Height),
		0,
		xproto.WindowClassInputOutput,
		o.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	ov := &x11Overlay{
		opener: o,
		window: win,
		spec:   spec,
		loaded: make(chan struct{}),
	}

	if err := ov.setTitle(spec.Title); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	states := []string{"_NET_WM_STATE_FULLSCREEN"}
	if spec.AlwaysOnTop {
		states = append(states, "_NET_WM_STATE_ABOVE")
	}
	if err := ov.setState(states...); err != nil {
		log.Warn().Err(err).Msg("Failed to set window state")
	}

	o.windowsMu.Lock()
	o.windows[win] = ov
	o.windowsMu.Unlock()

	go ov.load()

	log.Debug().
		Uint32("window_id", uint32(win)).
		Str("title", spec.Title).
		Int("x", spec.Bounds.X).
		Int("y", spec.Bounds.Y).
		Int("width", spec.Bounds.Width).
		Int("height", spec.Bounds.Height).
		Msg("Overlay window created")

	return ov, nil
}

type x11Overlay struct {
	opener *X11Opener
	window xproto.Window
	pixmap xproto.Pixmap
	spec   OverlaySpec

	loaded  chan struct{}
	loadErr error

	closeOnce sync.Once
}

func (w *x11Overlay) ID() uint32 {
	return uint32(w.window)
}

// load decodes the preview, uploads it into a pixmap and installs the
// pixmap as the window background
func (w *x11Overlay) load() {
	defer close(w.loaded)

	if w.spec.ContentPath == "" {
		return
	}

	img, err := imaging.Open(w.spec.ContentPath)
	if err != nil {
		w.loadErr = fmt.Errorf("failed to open preview: %w", err)
		return
	}

	b := img.Bounds()
	if b.Dx() != w.spec.Bounds.Width || b.Dy() != w.spec.Bounds.Height {
		img = imaging.Resize(img, w.spec.Bounds.Width, w.spec.Bounds.Height, imaging.Lanczos)
	}

	w.loadErr = w.opener.uploadBackground(w, imaging.Clone(img))
}

func (o *X11Opener) uploadBackground(w *x11Overlay, img *image.NRGBA) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pixmap, err := xproto.NewPixmapId(o.conn)
	if err != nil {
		return fmt.Errorf("failed to create pixmap ID: %w", err)
	}

	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	if err := xproto.CreatePixmapChecked(o.conn, o.screen.RootDepth, pixmap,
		xproto.Drawable(w.window), uint16(width), uint16(height)).Check(); err != nil {
		return fmt.Errorf("failed to create pixmap: %w", err)
	}
	w.pixmap = pixmap

	gc, err := xproto.NewGcontextId(o.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context ID: %w", err)
	}
	if err := xproto.CreateGCChecked(o.conn, gc, xproto.Drawable(pixmap), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	defer xproto.FreeGC(o.conn, gc)

	data, err := o.zpixmap(img)
	if err != nil {
		return err
	}

	// PutImage requests are bounded by the maximum request length, so the
	// image goes up in horizontal bands.
	stride := len(data) / height
	rows := maxRequestRows(o.conn, stride)
	for y := 0; y < height; y += rows {
		n := rows
		if y+n > height {
			n = height - y
		}
		err := xproto.PutImageChecked(o.conn, xproto.ImageFormatZPixmap,
			xproto.Drawable(pixmap), gc, uint16(width), uint16(n),
			0, int16(y), 0, o.screen.RootDepth, data[y*stride:(y+n)*stride]).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}

	if err := xproto.ChangeWindowAttributesChecked(o.conn, w.window,
		xproto.CwBackPixmap, []uint32{uint32(pixmap)}).Check(); err != nil {
		return fmt.Errorf("failed to set background pixmap: %w", err)
	}
	o.conn.Sync()
	return nil
}

// zpixmap converts img to the server's ZPixmap layout for the root depth
func (o *X11Opener) zpixmap(img *image.NRGBA) ([]byte, error) {
	depth := o.screen.RootDepth

	var bitsPerPixel, scanlinePad uint8
	for _, format := range xproto.Setup(o.conn).PixmapFormats {
		if format.Depth == depth {
			bitsPerPixel = format.BitsPerPixel
			scanlinePad = format.ScanlinePad
			break
		}
	}
	if bitsPerPixel == 0 {
		return nil, fmt.Errorf("no format found for depth %d", depth)
	}

	bytesPerPixel := int(bitsPerPixel) / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}

	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	padBytes := int(scanlinePad) / 8
	stride := ((width*bytesPerPixel + padBytes - 1) / padBytes) * padBytes
	data := make([]byte, stride*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src := y*img.Stride + x*4
			dst := y*stride + x*bytesPerPixel
			data[dst] = img.Pix[src+2]
			data[dst+1] = img.Pix[src+1]
			data[dst+2] = img.Pix[src]
			if bytesPerPixel == 4 && depth == 32 {
				data[dst+3] = img.Pix[src+3]
			}
		}
	}
	return data, nil
}

func maxRequestRows(conn *xgb.Conn, stride int) int {
	// Maximum request length is in 4-byte units; leave room for the header.
	maxBytes := int(xproto.Setup(conn).MaximumRequestLength)*4 - 64
	rows := maxBytes / stride
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (w *x11Overlay) WaitLoaded(ctx context.Context) error {
	select {
	case <-w.loaded:
		return w.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *x11Overlay) Show() error {
	o := w.opener
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := xproto.MapWindowChecked(o.conn, w.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}
	if !w.spec.AlwaysOnTop {
		// Mapping raises the window; keep it under the other windows
		err := xproto.ConfigureWindowChecked(o.conn, w.window,
			xproto.ConfigWindowStackMode, []uint32{xproto.StackModeBelow}).Check()
		if err != nil {
			return fmt.Errorf("failed to lower window: %w", err)
		}
	}
	xproto.ClearArea(o.conn, true, w.window, 0, 0, 0, 0)
	o.conn.Sync()
	return nil
}

func (w *x11Overlay) Focus() error {
	o := w.opener
	o.mu.Lock()
	defer o.mu.Unlock()
	return focusWindow(o.conn, w.window)
}

func (w *x11Overlay) Close() error {
	var err error
	w.closeOnce.Do(func() {
		<-w.loaded

		o := w.opener
		o.windowsMu.Lock()
		delete(o.windows, w.window)
		o.windowsMu.Unlock()

		o.mu.Lock()
		defer o.mu.Unlock()

		if e := xproto.DestroyWindowChecked(o.conn, w.window).Check(); e != nil {
			err = fmt.Errorf("failed to destroy window: %w", e)
		}
		if w.pixmap != 0 {
			xproto.FreePixmap(o.conn, w.pixmap)
		}
		o.conn.Sync()

		logger.WithComponent("x11-overlay").Debug().
			Uint32("window_id", uint32(w.window)).
			Msg("Overlay window closed")
	})
	return err
}

// setTitle sets _NET_WM_NAME
func (w *x11Overlay) setTitle(title string) error {
	conn := w.opener.conn
	titleAtom, err := getAtom(conn, "_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := getAtom(conn, "UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(conn, xproto.PropModeReplace, w.window,
		titleAtom, utf8Atom, 8, uint32(len(title)), []byte(title)).Check()
}

// setState sets _NET_WM_STATE to the given atoms
func (w *x11Overlay) setState(names ...string) error {
	conn := w.opener.conn
	stateAtom, err := getAtom(conn, "_NET_WM_STATE")
	if err != nil {
		return err
	}

	data := make([]byte, 0, 4*len(names))
	for _, name := range names {
		atom, err := getAtom(conn, name)
		if err != nil {
			return err
		}
		buf := make([]byte, 4)
		xgb.Put32(buf, uint32(atom))
		data = append(data, buf...)
	}

	return xproto.ChangePropertyChecked(conn, xproto.PropModeReplace, w.window,
		stateAtom, xproto.AtomAtom, 32, uint32(len(names)), data).Check()
}
