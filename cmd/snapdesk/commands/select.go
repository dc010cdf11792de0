package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
	"github.com/bryanchriswhite/snapdesk/internal/session"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Run an interactive capture",
	Long: `Freeze every selected display behind a full-screen preview overlay and
wait for the selection. The API server runs for the duration of the capture:
overlay content posts the selected image to

  POST /api/capture/sessions/{id}/selection

or sends it over the session WebSocket. An empty selection cancels, as
does Ctrl+C. The saved path is printed to stdout.`,
	Example: `  # Select from every display, save to a generated file
  snapdesk select

  # Select from displays 1 and 3, hiding the host window
  snapdesk select --display 1 --display 3 --hide-host -o pick.png`,
	RunE: runSelect,
}

var (
	selectDisplays []string
	selectOutput   string
	selectHideHost bool
)

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().StringArrayVarP(&selectDisplays, "display", "d", nil, "display ID or 'primary', repeatable (default is every display)")
	selectCmd.Flags().StringVarP(&selectOutput, "output", "o", "", "output file (default is a generated file in the preview directory)")
	selectCmd.Flags().BoolVar(&selectHideHost, "hide-host", false, "hide the host window while overlays are open")
}

func runSelect(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sel := session.Selection{All: len(selectDisplays) == 0}
	for _, raw := range selectDisplays {
		id, err := parseDisplayFlag(raw)
		if err != nil {
			return err
		}
		sel.IDs = append(sel.IDs, id)
	}

	orch := a.orchestrator()
	server, errChan := startServer(a, orch)
	defer shutdownServer(server)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := orch.Start(ctx, session.Request{
		Path:     selectOutput,
		Displays: sel,
		HideHost: selectHideHost,
	})

	logger.WithSession("select", s.ID).Info().
		Str("selection_url", fmt.Sprintf("http://localhost:%d/api/capture/sessions/%s/selection", a.cfg.ServerPort, s.ID)).
		Msg("Waiting for selection")

	select {
	case <-s.Done():
	case err := <-errChan:
		s.Cancel()
		<-s.Done()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	result, err := s.Wait(context.Background())
	if err != nil {
		return err
	}
	if result.Cancelled {
		fmt.Fprintln(os.Stderr, "Capture cancelled")
		return nil
	}
	fmt.Println(result.Saved.Path)
	return nil
}
