package clipboard

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"golang.design/x/clipboard"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// Writer puts captured images on the clipboard
type Writer interface {
	WriteImage(data []byte) error
}

// System writes to the desktop clipboard
type System struct {
	once    sync.Once
	initErr error
}

// NewSystem creates a system clipboard writer. The clipboard is initialized
// on first use.
func NewSystem() *System {
	return &System{}
}

// WriteImage places data on the clipboard as PNG, converting other formats
func (s *System) WriteImage(data []byte) error {
	s.once.Do(func() {
		s.initErr = clipboard.Init()
	})
	if s.initErr != nil {
		return fmt.Errorf("clipboard not available: %w", s.initErr)
	}

	png, err := ToPNG(data)
	if err != nil {
		return err
	}

	clipboard.Write(clipboard.FmtImage, png)
	logger.WithComponent("clipboard").Debug().Int("bytes", len(png)).Msg("Image copied to clipboard")
	return nil
}

// ToPNG returns data encoded as PNG
func ToPNG(data []byte) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if format == "png" {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Memory keeps the last written image. It backs headless runs.
type Memory struct {
	mu   sync.Mutex
	last []byte
}

// WriteImage stores data as PNG
func (m *Memory) WriteImage(data []byte) error {
	png, err := ToPNG(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = png
	return nil
}

// Last returns the last written image
func (m *Memory) Last() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
