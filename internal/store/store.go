package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// ErrPersistence is returned when an image cannot be written
var ErrPersistence = errors.New("failed to persist image")

// Saved describes a persisted image
type Saved struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// Store writes captured images to a filesystem
type Store struct {
	fs          afero.Fs
	previewDir  string
	jpegQuality int
}

// New creates a store. Generated previews go under previewDir.
func New(fs afero.Fs, previewDir string, jpegQuality int) *Store {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}
	return &Store{
		fs:          fs,
		previewDir:  previewDir,
		jpegQuality: jpegQuality,
	}
}

// NewOS creates a store on the real filesystem
func NewOS(previewDir string, jpegQuality int) *Store {
	return New(afero.NewOsFs(), previewDir, jpegQuality)
}

// PreviewHandler serves preview images by file name
func (s *Store) PreviewHandler() http.Handler {
	return http.FileServer(afero.NewHttpFs(s.fs).Dir(s.previewDir))
}

// Save writes data to path. An empty path stores a generated preview file.
// When the path extension names a different image format than data, the
// image is transcoded. The write is atomic: readers never see a partial file.
func (s *Store) Save(ctx context.Context, data []byte, path string) (Saved, error) {
	if err := ctx.Err(); err != nil {
		return Saved{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if len(data) == 0 {
		return Saved{}, fmt.Errorf("%w: empty image", ErrPersistence)
	}

	if path == "" {
		path = s.previewPath(data)
	}

	data, err := s.transcode(data, path)
	if err != nil {
		return Saved{}, fmt.Errorf("%w: %s: %w", ErrPersistence, path, err)
	}

	if err := s.writeAtomic(path, data); err != nil {
		return Saved{}, fmt.Errorf("%w: %s: %w", ErrPersistence, path, err)
	}

	logger.WithComponent("store").Debug().
		Str("path", path).
		Int("bytes", len(data)).
		Msg("Image saved")

	return Saved{Path: path, Bytes: len(data)}, nil
}

// Discard removes a file written by Save. Missing files are ignored.
func (s *Store) Discard(path string) error {
	if path == "" {
		return nil
	}
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// previewPath generates a unique file name in the preview directory with
// an extension matching data
func (s *Store) previewPath(data []byte) string {
	ext := "png"
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		ext = format
	}
	return filepath.Join(s.previewDir, fmt.Sprintf("preview-%s.%s", uuid.NewString(), ext))
}

func (s *Store) transcode(data []byte, path string) ([]byte, error) {
	want, err := imaging.FormatFromFilename(path)
	if err != nil {
		// Unknown extension: keep the bytes as they are
		return data, nil
	}

	_, have, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if strings.EqualFold(have, want.String()) {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, want, imaging.JPEGQuality(s.jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", want, err)
	}
	return buf.Bytes(), nil
}

func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".snapdesk-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close: %w", err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}
