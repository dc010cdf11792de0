package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapdesk/internal/capture"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a display",
	Long: `Record video of a display, or a region of it, until the duration
elapses or Ctrl+C is pressed. Use the API to pause and resume a recording.

The encoder comes from capture.video_encoder: mjpeg writes a multipart
MJPEG stream, gstreamer writes VP8 in WebM.`,
	Example: `  # Record the primary display for 10 seconds
  snapdesk record --duration 10s -o clip.mjpeg

  # Record display 2 until Ctrl+C
  snapdesk record --display 2 -o clip.webm`,
	RunE: runRecord,
}

var (
	recordDisplay  string
	recordOutput   string
	recordDuration time.Duration
	recordRegion   capture.Region
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVarP(&recordDisplay, "display", "d", "primary", "display ID or 'primary'")
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "output file (required)")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "stop after this long (default is until interrupted)")
	recordCmd.Flags().IntVar(&recordRegion.X, "x", 0, "region left edge")
	recordCmd.Flags().IntVar(&recordRegion.Y, "y", 0, "region top edge")
	recordCmd.Flags().IntVar(&recordRegion.Width, "width", 0, "region width (default is the display width)")
	recordCmd.Flags().IntVar(&recordRegion.Height, "height", 0, "region height (default is the display height)")
	recordCmd.MarkFlagRequired("output")
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := parseDisplayFlag(recordDisplay)
	if err != nil {
		return err
	}
	region := recordRegion
	region.DisplayID = id

	log := logger.WithComponent("record")

	rec, err := a.capturer.CaptureVideo(cmd.Context(), region)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var timeout <-chan time.Time
	if recordDuration > 0 {
		timer := time.NewTimer(recordDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	log.Info().
		Uint32("display_id", uint32(rec.Display.ID)).
		Int("width", rec.Region.Width).
		Int("height", rec.Region.Height).
		Msg("Recording, press Ctrl+C to stop")

	select {
	case <-timeout:
	case <-sigChan:
	}

	result, err := rec.Stop()
	if err != nil {
		return err
	}

	saved, err := a.store.Save(cmd.Context(), result.Data, recordOutput)
	if err != nil {
		return err
	}

	log.Info().
		Uint64("frames", result.Frames).
		Dur("duration", result.Duration).
		Str("mime_type", result.MIMEType).
		Msg("Recording saved")
	fmt.Println(saved.Path)
	return nil
}
