package capture

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// Image is an encoded still capture
type Image struct {
	Data   []byte         `json:"data"`
	Format imaging.Format `json:"-"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Region Region         `json:"region"`
}

// MIMEType returns the MIME type of the encoded data
func (i *Image) MIMEType() string {
	switch i.Format {
	case imaging.JPEG:
		return "image/jpeg"
	case imaging.GIF:
		return "image/gif"
	case imaging.BMP:
		return "image/bmp"
	case imaging.TIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// TakeScreenshot captures one frame of a display region
func (c *Capturer) TakeScreenshot(ctx context.Context, r Region) (*Image, error) {
	if c.formatErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, c.formatErr)
	}

	d, r, err := c.plan(r)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("capture")

	stream, err := c.acquirer.Acquire(ctx, d)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			log.Warn().Err(err).Uint32("display_id", uint32(d.ID)).Msg("Failed to stop stream")
		}
	}()

	frame, err := stream.Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamAcquisition, err)
	}

	surface := NewSurface(r)
	DrawFrame(surface, frame, r)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, surface, c.format, imaging.JPEGQuality(c.opts.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	log.Debug().
		Uint32("display_id", uint32(d.ID)).
		Int("width", r.Width).
		Int("height", r.Height).
		Int("avail_top", r.AvailTop).
		Int("bytes", buf.Len()).
		Msg("Screenshot captured")

	return &Image{
		Data:   buf.Bytes(),
		Format: c.format,
		Width:  r.Width,
		Height: r.Height,
		Region: r,
	}, nil
}

// TakeAllScreenshots captures every region concurrently. With no regions it
// captures each connected display in full. Results follow the input order;
// any failure cancels the others and no partial result is returned.
func (c *Capturer) TakeAllScreenshots(ctx context.Context, regions ...Region) ([]*Image, error) {
	if len(regions) == 0 {
		displays, err := c.displays.Displays()
		if err != nil {
			return nil, fmt.Errorf("failed to list displays: %w", err)
		}
		for _, d := range displays {
			regions = append(regions, FullRegion(d))
		}
	}

	images := make([]*Image, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range regions {
		i, r := i, r
		g.Go(func() error {
			img, err := c.TakeScreenshot(gctx, r)
			if err != nil {
				return fmt.Errorf("display %d: %w", r.DisplayID, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
