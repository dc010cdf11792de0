package display

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// X11Provider reports displays from the Xinerama extension and reads the
// reserved top offset from the EWMH _NET_WORKAREA root property.
type X11Provider struct {
	conn     *xgb.Conn
	screen   *xproto.ScreenInfo
	xinerama bool
	fallback int
	mu       sync.Mutex
}

// NewX11Provider connects to the X server. fallbackTop is used when the
// window manager does not publish _NET_WORKAREA.
func NewX11Provider(fallbackTop int) (*X11Provider, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	p := &X11Provider{
		conn:     conn,
		screen:   xproto.Setup(conn).DefaultScreen(conn),
		fallback: fallbackTop,
	}

	log := logger.WithComponent("display")
	if err := xinerama.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Xinerama not available, treating root window as a single display")
	} else if reply, err := xinerama.IsActive(conn).Reply(); err == nil && reply.State != 0 {
		p.xinerama = true
	}

	return p, nil
}

// Close closes the X11 connection
func (p *X11Provider) Close() error {
	p.conn.Close()
	return nil
}

// Displays returns the Xinerama screens in server order
func (p *X11Provider) Displays() ([]Display, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.xinerama {
		w, h := int(p.screen.WidthInPixels), int(p.screen.HeightInPixels)
		return []Display{{
			ID:      1,
			Bounds:  Rect{Width: w, Height: h},
			Size:    Size{Width: w, Height: h},
			Primary: true,
		}}, nil
	}

	reply, err := xinerama.QueryScreens(p.conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query xinerama screens: %w", err)
	}

	displays := make([]Display, 0, len(reply.ScreenInfo))
	for i, s := range reply.ScreenInfo {
		displays = append(displays, Display{
			ID: ID(i + 1),
			Bounds: Rect{
				X:      int(s.XOrg),
				Y:      int(s.YOrg),
				Width:  int(s.Width),
				Height: int(s.Height),
			},
			Size: Size{Width: int(s.Width), Height: int(s.Height)},
		})
	}
	return displays, nil
}

// Primary returns the screen containing the root origin
func (p *X11Provider) Primary() (Display, error) {
	displays, err := p.Displays()
	if err != nil {
		return Display{}, err
	}
	return primaryOf(displays)
}

// ReservedTop returns the Y origin of the current desktop's work area
func (p *X11Provider) ReservedTop() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := logger.WithComponent("display")

	workarea, err := p.cardinals("_NET_WORKAREA")
	if err != nil || len(workarea) < 4 {
		log.Debug().Err(err).Int("fallback", p.fallback).Msg("No _NET_WORKAREA, using configured reserved top")
		return p.fallback, nil
	}

	desktop := 0
	if current, err := p.cardinals("_NET_CURRENT_DESKTOP"); err == nil && len(current) > 0 {
		desktop = int(current[0])
	}
	if (desktop+1)*4 > len(workarea) {
		desktop = 0
	}

	return int(int32(workarea[desktop*4+1])), nil
}

// cardinals reads a CARDINAL[] property from the root window
func (p *X11Provider) cardinals(name string) ([]uint32, error) {
	atom, err := p.getAtom(name)
	if err != nil {
		return nil, err
	}

	reply, err := xproto.GetProperty(
		p.conn,
		false,
		p.screen.Root,
		atom,
		xproto.AtomCardinal,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, err
	}
	if reply.Format != 32 || reply.ValueLen == 0 {
		return nil, fmt.Errorf("property %s not set", name)
	}

	values := make([]uint32, reply.ValueLen)
	for i := range values {
		values[i] = xgb.Get32(reply.Value[i*4:])
	}
	return values, nil
}

// getAtom gets an atom ID by name
func (p *X11Provider) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(p.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	if reply.Atom == xproto.AtomNone {
		return 0, fmt.Errorf("atom %s does not exist", name)
	}
	return reply.Atom, nil
}
