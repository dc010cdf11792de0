package capture

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// pipewireStream reads raw RGBA frames of a PipeWire node from a
// gst-launch-1.0 subprocess. Running GStreamer out of process avoids CGO.
type pipewireStream struct {
	nodeID uint32
	width  int
	height int
	cmd    *exec.Cmd

	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once

	mu      sync.RWMutex
	latest  *image.RGBA
	err     error
	stopped bool
}

func newPipeWireStream(nodeID uint32, width, height int) (*pipewireStream, error) {
	log := logger.WithComponent("pipewire")

	pipelineStr := fmt.Sprintf(
		"pipewiresrc path=%d do-timestamp=true ! "+
			"videoconvert ! "+
			"videoscale ! "+
			"video/x-raw,format=RGBA,width=%d,height=%d ! "+
			"fdsink fd=1 sync=false",
		nodeID, width, height,
	)
	log.Debug().Str("pipeline", pipelineStr).Msg("Starting GStreamer subprocess")

	args := append([]string{"-q"}, strings.Fields(pipelineStr)...)
	cmd := exec.Command("gst-launch-1.0", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start gst-launch: %w", err)
	}

	s := &pipewireStream{
		nodeID: nodeID,
		width:  width,
		height: height,
		cmd:    cmd,
		ready:  make(chan struct{}),
	}

	go s.readFrames(stdout)
	go logGStreamer(stderr)

	log.Info().Uint32("node_id", nodeID).Int("pid", cmd.Process.Pid).Msg("GStreamer subprocess started")
	return s, nil
}

// readFrames continuously reads raw RGBA frames from stdout. The stream is
// ready after the first complete frame, or failed if the process ends first.
func (s *pipewireStream) readFrames(stdout io.Reader) {
	log := logger.WithComponent("pipewire")

	frameSize := s.width * s.height * 4
	reader := bufio.NewReaderSize(stdout, frameSize)

	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(reader, buf); err != nil {
			s.mu.Lock()
			if s.latest == nil && !s.stopped {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					err = fmt.Errorf("pipewire node %d ended before the first frame", s.nodeID)
				}
				s.err = err
			}
			s.mu.Unlock()
			s.markReady()
			log.Debug().Err(err).Msg("Frame reader stopping")
			return
		}

		img := &image.RGBA{
			Pix:    buf,
			Stride: s.width * 4,
			Rect:   image.Rect(0, 0, s.width, s.height),
		}

		s.mu.Lock()
		s.latest = img
		s.mu.Unlock()
		s.markReady()
	}
}

func (s *pipewireStream) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *pipewireStream) Ready() <-chan struct{} {
	return s.ready
}

func (s *pipewireStream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Frame returns the most recent frame. Frames are never modified after
// being published, so no copy is needed.
func (s *pipewireStream) Frame() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return nil, ErrStreamStopped
	}
	if s.latest == nil {
		if s.err != nil {
			return nil, s.err
		}
		return nil, fmt.Errorf("no frame received yet")
	}
	return s.latest, nil
}

// Stop kills the GStreamer subprocess
func (s *pipewireStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.latest = nil
		s.mu.Unlock()

		if s.cmd.Process != nil {
			logger.WithComponent("pipewire").Debug().Int("pid", s.cmd.Process.Pid).Msg("Killing GStreamer subprocess")
			s.cmd.Process.Kill()
			s.cmd.Wait()
		}
		s.markReady()
	})
	return nil
}

// logGStreamer logs any output from a GStreamer subprocess
func logGStreamer(r io.Reader) {
	log := logger.WithComponent("pipewire")
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
