package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "snapdesk",
		Short: "SnapDesk - Screen capture for multi-display desktops",
		Long: `SnapDesk captures screenshots and video of any connected display and
runs interactive captures where a frozen preview is shown on every display
until a selection is made.

Features:
  • Still capture of a display or a region of it (PNG, JPEG)
  • Parallel capture of several displays
  • Video recording with pause and resume (MJPEG, WebM)
  • Interactive capture with per-display overlays
  • X11, XDG desktop portal and cross-platform capture backends
  • REST and WebSocket API for integration`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(viper.GetString("log_level"), viper.GetBool("pretty"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/snapdesk/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable log output")
	rootCmd.PersistentFlags().Bool("debug", false, "keep capture overlays below other windows")
	rootCmd.PersistentFlags().String("backend", "", "capture backend (auto, portal, x11, screenshot)")
	rootCmd.PersistentFlags().Bool("headless", false, "do not create windows; overlays are served over the API only")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("capture.backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("headless", rootCmd.PersistentFlags().Lookup("headless"))
}

func initConfig() {
	viper.SetEnvPrefix("SNAPDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
