package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapdesk/internal/capture"
	"github.com/bryanchriswhite/snapdesk/internal/display"
)

var shotCmd = &cobra.Command{
	Use:   "shot",
	Short: "Take a screenshot",
	Long: `Capture a display, or a region of it, and save it as an image. The
image format follows the output file extension.

Saved paths are printed to stdout, one per line.`,
	Example: `  # Capture the primary display to a generated file
  snapdesk shot

  # Capture a region of display 2 as JPEG
  snapdesk shot --display 2 --x 100 --y 50 --width 640 --height 480 -o region.jpg

  # Capture every display (files are suffixed with the display ID)
  snapdesk shot --all -o desk.png

  # Hide the focused window while capturing
  snapdesk shot --hide-host -o clean.png`,
	RunE: runShot,
}

var (
	shotDisplay  string
	shotAll      bool
	shotOutput   string
	shotHideHost bool
	shotRegion   capture.Region
)

func init() {
	rootCmd.AddCommand(shotCmd)

	shotCmd.Flags().StringVarP(&shotDisplay, "display", "d", "primary", "display ID or 'primary'")
	shotCmd.Flags().BoolVarP(&shotAll, "all", "a", false, "capture every display")
	shotCmd.Flags().StringVarP(&shotOutput, "output", "o", "", "output file (default is a generated file in the preview directory)")
	shotCmd.Flags().BoolVar(&shotHideHost, "hide-host", false, "hide the host window during the capture")
	shotCmd.Flags().IntVar(&shotRegion.X, "x", 0, "region left edge")
	shotCmd.Flags().IntVar(&shotRegion.Y, "y", 0, "region top edge")
	shotCmd.Flags().IntVar(&shotRegion.Width, "width", 0, "region width (default is the display width)")
	shotCmd.Flags().IntVar(&shotRegion.Height, "height", 0, "region height (default is the display height)")
}

// parseDisplayFlag accepts a numeric display ID or "primary"
func parseDisplayFlag(raw string) (display.ID, error) {
	if raw == "" || raw == "primary" {
		return display.Primary, nil
	}
	var id uint32
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid display ID: %s", raw)
	}
	return display.ID(id), nil
}

// suffixed inserts -<id> before the extension of path
func suffixed(path string, id display.ID) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), id, ext)
}

func runShot(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	if !shotAll {
		id, err := parseDisplayFlag(shotDisplay)
		if err != nil {
			return err
		}
		region := shotRegion
		region.DisplayID = id

		saved, err := a.orchestrator().SaveScreenshotImage(ctx, region, shotOutput, shotHideHost)
		if err != nil {
			return err
		}
		fmt.Println(saved.Path)
		return nil
	}

	displays, err := a.displays.Displays()
	if err != nil {
		return fmt.Errorf("failed to list displays: %w", err)
	}
	regions := make([]capture.Region, 0, len(displays))
	for _, d := range displays {
		regions = append(regions, capture.FullRegion(d))
	}

	images, err := a.capturer.TakeAllScreenshots(ctx, regions...)
	if err != nil {
		return err
	}
	for _, img := range images {
		saved, err := a.store.Save(ctx, img.Data, suffixed(shotOutput, img.Region.DisplayID))
		if err != nil {
			return err
		}
		fmt.Println(saved.Path)
	}
	return nil
}
