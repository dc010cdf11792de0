package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
)

// SelectSources options
const (
	portalSourceMonitor  = 1 << 0
	portalCursorEmbedded = 1 << 1
	portalPersistSession = 2
)

// portalStream is one PipeWire stream granted by the ScreenCast portal
type portalStream struct {
	NodeID uint32
	X, Y   int
	Width  int
	Height int
}

// PortalBackend captures screens on Wayland through the xdg-desktop-portal
// ScreenCast interface. The portal grants one PipeWire stream per monitor
// the user shares; frames are read with a GStreamer subprocess.
type PortalBackend struct {
	conn      *dbus.Conn
	tokenPath string

	mu           sync.Mutex
	session      dbus.ObjectPath
	restoreToken string
	streams      []portalStream
}

// NewPortalBackend connects to the session bus
func NewPortalBackend() (*PortalBackend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	if err := conn.Object(portalService, portalPath).
		Call("org.freedesktop.DBus.Peer.Ping", 0).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("screen cast portal not available: %w", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}

	b := &PortalBackend{
		conn:      conn,
		tokenPath: filepath.Join(configDir, "snapdesk", "portal_token"),
	}
	b.loadRestoreToken()
	return b, nil
}

// Name returns the backend name
func (b *PortalBackend) Name() string {
	return "portal"
}

// Close ends the portal session and closes the bus connection
func (b *PortalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != "" {
		b.conn.Object(portalService, b.session).Call("org.freedesktop.portal.Session.Close", 0)
		b.session = ""
	}
	return b.conn.Close()
}

// Sources starts a portal session on first use (the portal may show a
// dialog) and returns one screen source per shared monitor, in portal order
func (b *PortalBackend) Sources(ctx context.Context, kinds ...Kind) ([]Source, error) {
	if !wantsKind(kinds, KindScreen) {
		return nil, nil
	}

	streams, err := b.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return screenSources(len(streams)), nil
}

// Open starts reading the PipeWire stream behind a screen source
func (b *PortalBackend) Open(ctx context.Context, c Constraints) (Stream, error) {
	index, err := parseScreenSourceID(c.SourceID)
	if err != nil {
		return nil, err
	}

	streams, err := b.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	if index >= len(streams) {
		return nil, fmt.Errorf("no portal stream at index %d (%d streams)", index, len(streams))
	}

	s := streams[index]
	if s.Width > 0 && s.Height > 0 && (s.Width != c.Width || s.Height != c.Height) {
		return nil, fmt.Errorf("constraints %dx%d do not match stream size %dx%d",
			c.Width, c.Height, s.Width, s.Height)
	}

	return newPipeWireStream(s.NodeID, c.Width, c.Height)
}

func (b *PortalBackend) ensureSession(ctx context.Context) ([]portalStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != "" {
		return b.streams, nil
	}

	log := logger.WithComponent("portal")

	results, err := b.request(ctx, "CreateSession", nil, map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(fmt.Sprintf("snapdesk%d", os.Getpid())),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	var session dbus.ObjectPath
	switch v := results["session_handle"].Value().(type) {
	case dbus.ObjectPath:
		session = v
	case string:
		session = dbus.ObjectPath(v)
	default:
		return nil, fmt.Errorf("unexpected session_handle type: %T", v)
	}
	log.Debug().Str("session", string(session)).Msg("Created portal session")

	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(uint32(portalSourceMonitor)),
		"multiple":     dbus.MakeVariant(true),
		"cursor_mode":  dbus.MakeVariant(uint32(portalCursorEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(portalPersistSession)),
	}
	if b.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(b.restoreToken)
		log.Debug().Msg("Using saved restore token")
	}
	if _, err := b.request(ctx, "SelectSources", []interface{}{session}, options); err != nil {
		return nil, fmt.Errorf("failed to select sources: %w", err)
	}

	results, err = b.request(ctx, "Start", []interface{}{session, ""}, map[string]dbus.Variant{})
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	if v, ok := results["restore_token"]; ok {
		if token, ok := v.Value().(string); ok {
			b.restoreToken = token
			b.saveRestoreToken()
		}
	}

	v, ok := results["streams"]
	if !ok {
		return nil, fmt.Errorf("no streams in response")
	}
	streams, err := parsePortalStreams(v.Value())
	if err != nil {
		return nil, err
	}

	b.session = session
	b.streams = streams
	log.Info().Int("streams", len(streams)).Msg("Screen sharing started")
	return streams, nil
}

// request calls a ScreenCast method and waits for the matching Response
// signal on the returned request object
func (b *PortalBackend) request(ctx context.Context, method string, args []interface{}, options map[string]dbus.Variant) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")
	obj := b.conn.Object(portalService, portalPath)

	options["handle_token"] = dbus.MakeVariant(fmt.Sprintf("snapdesk_%s_%d", method, os.Getpid()))

	// Subscribe before calling so the response cannot be missed
	responseChan := make(chan *dbus.Signal, 10)
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}
	b.conn.Signal(responseChan)
	defer b.conn.RemoveSignal(responseChan)

	var requestPath dbus.ObjectPath
	callArgs := append(append([]interface{}{}, args...), options)
	if err := obj.CallWithContext(ctx, screenCastIface+"."+method, 0, callArgs...).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	log.Info().Str("request_path", string(requestPath)).Msgf("Waiting for %s response (portal dialog may appear)", method)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sig := <-responseChan:
			if sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			if len(sig.Body) < 2 {
				return nil, fmt.Errorf("invalid %s response", method)
			}
			response, _ := sig.Body[0].(uint32)
			if response != 0 {
				return nil, fmt.Errorf("%s denied (code %d)", method, response)
			}
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			return results, nil
		}
	}
}

// parsePortalStreams decodes the a(ua{sv}) streams result
func parsePortalStreams(v interface{}) ([]portalStream, error) {
	var raw [][]interface{}
	switch t := v.(type) {
	case [][]interface{}:
		raw = t
	case []interface{}:
		for _, s := range t {
			fields, ok := s.([]interface{})
			if !ok {
				return nil, fmt.Errorf("unexpected stream type: %T", s)
			}
			raw = append(raw, fields)
		}
	default:
		return nil, fmt.Errorf("unexpected streams type: %T", v)
	}

	streams := make([]portalStream, 0, len(raw))
	for _, fields := range raw {
		if len(fields) == 0 {
			return nil, fmt.Errorf("empty stream entry")
		}
		nodeID, ok := fields[0].(uint32)
		if !ok {
			return nil, fmt.Errorf("unexpected node id type: %T", fields[0])
		}
		s := portalStream{NodeID: nodeID}

		if len(fields) > 1 {
			if props, ok := fields[1].(map[string]dbus.Variant); ok {
				s.X, s.Y = pair(props["position"])
				s.Width, s.Height = pair(props["size"])
			}
		}
		streams = append(streams, s)
	}

	if len(streams) == 0 {
		return nil, fmt.Errorf("no streams in response")
	}
	return streams, nil
}

// pair reads an (ii) struct variant
func pair(v dbus.Variant) (int, int) {
	fields, ok := v.Value().([]interface{})
	if !ok || len(fields) != 2 {
		return 0, 0
	}
	a, _ := fields[0].(int32)
	b, _ := fields[1].(int32)
	return int(a), int(b)
}

// loadRestoreToken loads the restore token from disk
func (b *PortalBackend) loadRestoreToken() {
	data, err := os.ReadFile(b.tokenPath)
	if err != nil {
		return
	}

	var token struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return
	}
	b.restoreToken = token.Token
}

// saveRestoreToken saves the restore token to disk
func (b *PortalBackend) saveRestoreToken() {
	if b.restoreToken == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(b.tokenPath), 0755); err != nil {
		return
	}

	data, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: b.restoreToken})
	if err != nil {
		return
	}

	if err := os.WriteFile(b.tokenPath, data, 0600); err != nil {
		logger.WithComponent("portal").Warn().Err(err).Msg("Failed to save restore token")
	}
}
