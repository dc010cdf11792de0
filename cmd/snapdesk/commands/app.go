package commands

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/snapdesk/internal/capture"
	"github.com/bryanchriswhite/snapdesk/internal/clipboard"
	"github.com/bryanchriswhite/snapdesk/internal/config"
	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/logger"
	"github.com/bryanchriswhite/snapdesk/internal/notify"
	"github.com/bryanchriswhite/snapdesk/internal/output"
	"github.com/bryanchriswhite/snapdesk/internal/session"
	"github.com/bryanchriswhite/snapdesk/internal/store"
	"github.com/bryanchriswhite/snapdesk/internal/window"
)

// app holds the services shared by the commands
type app struct {
	configMgr *config.Manager
	cfg       *config.Config
	displays  display.Provider
	router    *capture.Router
	capturer  *capture.Capturer
	store     *store.Store
	closers   []func() error
}

// newApp loads the configuration, applies flag overrides and starts the
// display provider and capture backend
func newApp() (*app, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()
	if viper.IsSet("server_port") && viper.GetInt("server_port") > 0 {
		cfg.ServerPort = viper.GetInt("server_port")
	}
	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		cfg.LogLevel = viper.GetString("log_level")
	} else {
		logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	}
	if viper.GetBool("debug") {
		cfg.Debug = true
	}
	if backend := viper.GetString("capture.backend"); backend != "" {
		cfg.Capture.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.WithComponent("app")
	a := &app{configMgr: configMgr, cfg: cfg}

	if p, err := display.NewX11Provider(cfg.Capture.ReservedTop); err != nil {
		log.Debug().Err(err).Msg("X11 display provider unavailable, using screenshot provider")
		a.displays = display.NewScreenshotProvider(cfg.Capture.ReservedTop)
	} else {
		a.displays = p
		a.closers = append(a.closers, p.Close)
	}

	a.router = capture.NewRouter(cfg.Capture.Backend)
	if err := a.router.Start(); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.router.Stop)

	a.capturer = capture.NewCapturer(a.displays, a.router, a.router, capture.Options{
		Format:      cfg.Capture.ImageFormat,
		JPEGQuality: cfg.Capture.JPEGQuality,
		FPS:         cfg.Capture.FPS,
		NewEncoder: func() (output.Encoder, error) {
			return output.New(cfg.Capture.VideoEncoder, cfg.Capture.JPEGQuality)
		},
	})
	a.store = store.NewOS(cfg.Interactive.PreviewDir, cfg.Capture.JPEGQuality)

	log.Debug().
		Str("backend", a.router.Name()).
		Str("image_format", cfg.Capture.ImageFormat).
		Msg("Capture ready")

	return a, nil
}

// orchestrator builds the interactive capture orchestrator. Headless mode,
// or a desktop without an X server, records overlays without drawing them.
func (a *app) orchestrator() *session.Orchestrator {
	log := logger.WithComponent("app")
	headless := viper.GetBool("headless")

	deps := session.Deps{
		Displays: a.displays,
		Shooter:  a.capturer,
		Store:    a.store,
	}

	if !headless {
		if opener, err := window.NewX11Opener(); err != nil {
			log.Warn().Err(err).Msg("Overlay windows unavailable, running headless")
			headless = true
		} else {
			deps.Overlays = opener
			a.closers = append(a.closers, opener.Close)
		}
	}
	if headless {
		deps.Overlays = window.NewHeadlessOpener(afero.NewOsFs())
		deps.Host = window.NewHeadlessHost(false)
	} else if host := a.hostWindow(); host != nil {
		deps.Host = host
	}

	if a.cfg.Interactive.CopyToClipboard {
		if headless {
			deps.Clipboard = &clipboard.Memory{}
		} else {
			deps.Clipboard = clipboard.NewSystem()
		}
	}
	if a.cfg.Interactive.Notify {
		if headless {
			deps.Notifier = notify.Log{}
		} else {
			deps.Notifier = notify.NewDBusNotifier("SnapDesk", 0)
		}
	}

	return session.New(deps, session.Config{
		Settle:           window.SettleDelays(a.cfg.Interactive.HideSettleDelays),
		Debug:            a.cfg.Debug,
		SelectionTimeout: a.cfg.Interactive.SelectionTimeout,
		CopyToClipboard:  a.cfg.Interactive.CopyToClipboard,
		Notify:           a.cfg.Interactive.Notify,
	})
}

// hostWindow finds the window to hide during interactive capture. KDE
// Wayland sessions go through KWin, where X11 cannot minimize native
// Wayland clients.
func (a *app) hostWindow() window.Host {
	log := logger.WithComponent("app")
	pattern := a.cfg.Interactive.HostWindow

	if os.Getenv("WAYLAND_DISPLAY") != "" {
		host, err := window.NewKWinHost(pattern)
		if err == nil {
			return host
		}
		log.Debug().Err(err).Msg("KWin host unavailable, trying X11")
	}

	host, err := window.NewX11Host(pattern)
	if err != nil {
		log.Warn().Err(err).Msg("Host window not found, it will not be hidden")
		return nil
	}
	a.closers = append(a.closers, host.Close)
	return host
}

// Close releases everything newApp and orchestrator opened, newest first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.WithComponent("app").Warn().Err(err).Msg("Failed to release resource")
		}
	}
	a.closers = nil
}
