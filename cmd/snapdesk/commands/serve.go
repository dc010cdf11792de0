package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapdesk/internal/api"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
	"github.com/bryanchriswhite/snapdesk/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SnapDesk server",
	Long: `Start the SnapDesk HTTP server.

The server provides a REST API for screenshots, recordings and interactive
captures, and a WebSocket channel per interactive session for overlay content.`,
	Example: `  # Start server on default port (8080)
  snapdesk serve

  # Start server on custom port
  snapdesk serve --port 9090

  # Start without creating windows
  snapdesk serve --headless`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// startServer runs the API server in the background
func startServer(a *app, orch *session.Orchestrator) (*api.Server, <-chan error) {
	server := api.NewServer(api.Deps{
		Capturer: a.capturer,
		Sources:  a.router,
		Sessions: orch,
		Previews: a.store.PreviewHandler(),
		Config:   a.configMgr,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(a.cfg.ServerPort)
	}()
	return server, errChan
}

func shutdownServer(server *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithComponent("serve").Warn().Err(err).Msg("Server shutdown failed")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	log := logger.WithComponent("serve")
	log.Info().
		Str("config", a.configMgr.GetConfigPath()).
		Str("backend", a.router.Name()).
		Msg("Configuration loaded")

	orch := a.orchestrator()
	orch.Observe(func(ev session.Event) {
		log.Info().
			Str("session_id", ev.SessionID).
			Str("state", string(ev.State)).
			Msg("Capture session update")
	})

	server, errChan := startServer(a, orch)
	defer shutdownServer(server)

	log.Info().
		Str("api", fmt.Sprintf("http://localhost:%d/api", a.cfg.ServerPort)).
		Msg("SnapDesk is running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigChan:
		log.Info().Msg("Shutting down gracefully...")
	}
	return nil
}
