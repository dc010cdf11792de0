package output

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// GStreamerEncoder encodes frames to VP8/WebM by piping raw RGBA into a
// gst-launch-1.0 subprocess. Running GStreamer out of process avoids CGO.
type GStreamerEncoder struct {
	binary string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  bytes.Buffer
	config  Config
	running bool
	frames  int
}

// NewGStreamerEncoder creates a new subprocess-based encoder
func NewGStreamerEncoder() *GStreamerEncoder {
	return &GStreamerEncoder{binary: "gst-launch-1.0"}
}

// pipeline builds the gst-launch pipeline description for cfg
func pipeline(cfg Config) string {
	return fmt.Sprintf(
		"fdsrc fd=0 ! "+
			"rawvideoparse format=rgba width=%d height=%d framerate=%d/1 ! "+
			"videoconvert ! "+
			"vp8enc deadline=1 ! "+
			"webmmux ! "+
			"fdsink fd=1",
		cfg.Width, cfg.Height, cfg.FPS,
	)
}

// Begin starts the GStreamer subprocess
func (g *GStreamerEncoder) Begin(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	log := logger.WithComponent("gstreamer")

	path, err := exec.LookPath(g.binary)
	if err != nil {
		return fmt.Errorf("gstreamer not available: %w", err)
	}

	pipelineStr := pipeline(cfg)
	log.Debug().Str("pipeline", pipelineStr).Msg("Starting GStreamer subprocess")

	args := append([]string{"-q"}, strings.Fields(pipelineStr)...)
	g.cmd = exec.Command(path, args...)
	g.stdout.Reset()
	g.cmd.Stdout = &g.stdout

	stdin, err := g.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	g.stdin = stdin

	stderr, err := g.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := g.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}

	go logStderr(stderr)

	g.config = cfg
	g.frames = 0
	g.running = true

	log.Info().Int("pid", g.cmd.Process.Pid).Int("width", cfg.Width).Int("height", cfg.Height).Msg("GStreamer subprocess started")
	return nil
}

// EncodeFrame writes one raw RGBA frame to the subprocess. Frames are
// timed by the fixed pipeline framerate, so ts is only used for logging.
func (g *GStreamerEncoder) EncodeFrame(frame *image.RGBA, ts time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return fmt.Errorf("pipeline not running")
	}

	b := frame.Bounds()
	if b.Dx() != g.config.Width || b.Dy() != g.config.Height {
		return fmt.Errorf("frame size %dx%d does not match pipeline %dx%d",
			b.Dx(), b.Dy(), g.config.Width, g.config.Height)
	}

	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		start := y * frame.Stride
		if _, err := g.stdin.Write(frame.Pix[start : start+rowLen]); err != nil {
			return fmt.Errorf("failed to write frame %d at %v: %w", g.frames, ts, err)
		}
	}
	g.frames++
	return nil
}

// End closes the input, waits for GStreamer to finish the container and
// returns it
func (g *GStreamerEncoder) End() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil, fmt.Errorf("pipeline not running")
	}
	g.running = false

	log := logger.WithComponent("gstreamer")

	if err := g.stdin.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close GStreamer stdin")
	}
	if err := g.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("gst-launch exited: %w", err)
	}

	log.Info().Int("frames", g.frames).Int("bytes", g.stdout.Len()).Msg("GStreamer subprocess finished")

	data := make([]byte, g.stdout.Len())
	copy(data, g.stdout.Bytes())
	return data, nil
}

// MIMEType returns the WebM MIME type
func (g *GStreamerEncoder) MIMEType() string {
	return "video/webm"
}

// Name returns the encoder name
func (g *GStreamerEncoder) Name() string {
	return "gstreamer"
}

// logStderr logs any output from the GStreamer subprocess
func logStderr(r io.Reader) {
	log := logger.WithComponent("gstreamer")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}
