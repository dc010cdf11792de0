package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapdesk/internal/capture"
	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List connected displays",
	Long: `List all connected displays with their bounds and the capture source
each one is matched to.`,
	Example: `  # List displays in table format (default)
  snapdesk displays

  # List displays in JSON format
  snapdesk displays --format json`,
	RunE: runDisplays,
}

var displaysFormat string

func init() {
	rootCmd.AddCommand(displaysCmd)

	displaysCmd.Flags().StringVarP(&displaysFormat, "format", "f", "table", "output format (table or json)")
}

type displayRow struct {
	display.Display
	SourceID string `json:"source_id,omitempty"`
}

func runDisplays(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	displays, err := a.displays.Displays()
	if err != nil {
		return fmt.Errorf("failed to list displays: %w", err)
	}

	sources, err := a.router.Sources(cmd.Context(), capture.KindScreen)
	if err != nil {
		logger.WithComponent("displays").Warn().Err(err).Msg("Failed to enumerate capture sources")
	}

	rows := make([]displayRow, 0, len(displays))
	for i, d := range displays {
		row := displayRow{Display: d}
		if i < len(sources) {
			row.SourceID = sources[i].ID
		}
		rows = append(rows, row)
	}

	switch displaysFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "table":
		return printDisplaysTable(rows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", displaysFormat)
	}
}

func printDisplaysTable(rows []displayRow) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tBOUNDS\tSIZE\tPRIMARY\tSOURCE")
	fmt.Fprintln(w, "--\t------\t----\t-------\t------")

	for _, r := range rows {
		primary := "No"
		if r.Primary {
			primary = "Yes"
		}
		fmt.Fprintf(w, "%d\t%dx%d+%d+%d\t%dx%d\t%s\t%s\n",
			r.ID,
			r.Bounds.Width, r.Bounds.Height, r.Bounds.X, r.Bounds.Y,
			r.Size.Width, r.Size.Height,
			primary, r.SourceID)
	}

	return nil
}
