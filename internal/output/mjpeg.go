package output

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// MJPEGBoundary separates the JPEG parts of the stream
const MJPEGBoundary = "frame"

// MJPEGEncoder encodes frames as a Motion JPEG multipart stream.
// The same parts are broadcast to HTTP clients so a recording can be
// watched live in a browser.
type MJPEGEncoder struct {
	quality int
	config  Config
	running bool
	mu      sync.Mutex

	buf        bytes.Buffer
	frameCount uint64

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
}

// NewMJPEGEncoder creates a new MJPEG encoder
func NewMJPEGEncoder(quality int) *MJPEGEncoder {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &MJPEGEncoder{
		quality: quality,
		clients: make(map[chan []byte]struct{}),
	}
}

// Begin starts a new stream
func (m *MJPEGEncoder) Begin(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG encoder already running")
	}

	m.config = cfg
	m.running = true
	m.frameCount = 0
	m.buf.Reset()

	logger.WithComponent("mjpeg").Info().Msgf("[MJPEG] Encoder started: %dx%d @ %d FPS", cfg.Width, cfg.Height, cfg.FPS)
	return nil
}

// EncodeFrame appends a JPEG part and sends it to all connected clients
func (m *MJPEGEncoder) EncodeFrame(frame *image.RGBA, ts time.Duration) error {
	var jpegBuf bytes.Buffer
	if err := imaging.Encode(&jpegBuf, frame, imaging.JPEG, imaging.JPEGQuality(m.quality)); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := jpegBuf.Bytes()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("MJPEG encoder not running")
	}
	writePart(&m.buf, jpegData, ts)
	m.frameCount++
	m.mu.Unlock()

	// Broadcast to all clients
	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// End closes the stream and all live clients
func (m *MJPEGEncoder) End() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil, fmt.Errorf("MJPEG encoder not running")
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	fmt.Fprintf(&m.buf, "--%s--\r\n", MJPEGBoundary)

	logger.WithComponent("mjpeg").Info().Msgf("[MJPEG] Encoder stopped after %v frames", m.frameCount)

	data := make([]byte, m.buf.Len())
	copy(data, m.buf.Bytes())
	m.buf.Reset()
	return data, nil
}

// MIMEType returns the multipart MIME type
func (m *MJPEGEncoder) MIMEType() string {
	return "multipart/x-mixed-replace; boundary=" + MJPEGBoundary
}

// Name returns the encoder name
func (m *MJPEGEncoder) Name() string {
	return "mjpeg"
}

// Handler returns an http.Handler streaming frames live while recording
func (m *MJPEGEncoder) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", m.MIMEType())
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Msgf("[MJPEG] New client connected (total: %d)", clientCount)

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Msgf("[MJPEG] Client disconnected (remaining: %d)", clientCount)
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				var part bytes.Buffer
				writePart(&part, jpegData, -1)
				if _, err := w.Write(part.Bytes()); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// writePart writes one multipart JPEG part. A negative ts omits the timestamp header.
func writePart(buf *bytes.Buffer, jpegData []byte, ts time.Duration) {
	fmt.Fprintf(buf, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n", MJPEGBoundary, len(jpegData))
	if ts >= 0 {
		fmt.Fprintf(buf, "X-Timestamp: %d\r\n", ts.Milliseconds())
	}
	buf.WriteString("\r\n")
	buf.Write(jpegData)
	buf.WriteString("\r\n")
}
