package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// X11Backend enumerates Xinerama screens and streams them by reading the
// root window with GetImage
type X11Backend struct {
	conn     *xgb.Conn
	root     xproto.Window
	screen   *xproto.ScreenInfo
	xinerama bool
	mu       sync.Mutex
}

// NewX11Backend connects to the X server
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	b := &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
	}

	log := logger.WithComponent("x11-backend")
	if err := xinerama.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Xinerama extension not available - exposing the root window as one screen")
	} else if reply, err := xinerama.IsActive(conn).Reply(); err == nil && reply.State != 0 {
		b.xinerama = true
		log.Info().Msg("Xinerama extension initialized")
	}

	return b, nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Sources returns one screen source per Xinerama screen, in server order
func (b *X11Backend) Sources(ctx context.Context, kinds ...Kind) ([]Source, error) {
	if !wantsKind(kinds, KindScreen) {
		return nil, nil
	}

	rects, err := b.screens()
	if err != nil {
		return nil, err
	}
	return screenSources(len(rects)), nil
}

// Open starts a stream on a screen source. The screen size must equal the
// requested constraints exactly.
func (b *X11Backend) Open(ctx context.Context, c Constraints) (Stream, error) {
	index, err := parseScreenSourceID(c.SourceID)
	if err != nil {
		return nil, err
	}

	rects, err := b.screens()
	if err != nil {
		return nil, err
	}
	if index >= len(rects) {
		return nil, fmt.Errorf("no screen at index %d (%d screens)", index, len(rects))
	}

	rect := rects[index]
	if err := checkConstraints(c, rect); err != nil {
		return nil, err
	}

	logger.WithComponent("x11-backend").Debug().
		Str("source_id", c.SourceID).
		Int("x", rect.Min.X).
		Int("y", rect.Min.Y).
		Int("width", rect.Dx()).
		Int("height", rect.Dy()).
		Msg("Streaming screen")

	return NewGrabStream(func() (*image.RGBA, error) {
		return b.captureRect(rect)
	}), nil
}

// screens returns the Xinerama screen rectangles, or the root window when
// Xinerama is inactive
func (b *X11Backend) screens() ([]image.Rectangle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.xinerama {
		return []image.Rectangle{
			image.Rect(0, 0, int(b.screen.WidthInPixels), int(b.screen.HeightInPixels)),
		}, nil
	}

	reply, err := xinerama.QueryScreens(b.conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query xinerama screens: %w", err)
	}

	rects := make([]image.Rectangle, 0, len(reply.ScreenInfo))
	for _, s := range reply.ScreenInfo {
		x, y := int(s.XOrg), int(s.YOrg)
		rects = append(rects, image.Rect(x, y, x+int(s.Width), y+int(s.Height)))
	}
	return rects, nil
}

// captureRect reads a rectangle of the root window
func (b *X11Backend) captureRect(rect image.Rectangle) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reply, err := xproto.GetImage(
		b.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(b.root),
		int16(rect.Min.X), int16(rect.Min.Y),
		uint16(rect.Dx()), uint16(rect.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return b.convertImageData(reply.Data, rect.Dx(), rect.Dy())
}

// convertImageData converts 32bpp BGRx ZPixmap data to RGBA
func (b *X11Backend) convertImageData(data []byte, width, height int) (*image.RGBA, error) {
	depth := int(b.screen.RootDepth)
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported color depth: %d", depth)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img, nil
}
