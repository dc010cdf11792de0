package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/snapdesk/internal/logger"
)

// ErrInvalidConfig is returned when a value fails validation
var ErrInvalidConfig = errors.New("invalid config")

// ErrUnknownKey is returned by GetValue and Set for keys not in Config
var ErrUnknownKey = errors.New("unknown config key")

// Config represents the application configuration
type Config struct {
	ServerPort  int               `json:"server_port" yaml:"server_port"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Debug       bool              `json:"debug" yaml:"debug"`
	Capture     CaptureConfig     `json:"capture" yaml:"capture"`
	Interactive InteractiveConfig `json:"interactive" yaml:"interactive"`
}

// CaptureConfig configures the capture pipelines
type CaptureConfig struct {
	// Backend is auto, portal, x11 or screenshot
	Backend string `json:"backend" yaml:"backend"`

	// ReservedTop overrides the OS-reported work area offset when the
	// window system does not report one
	ReservedTop int `json:"reserved_top" yaml:"reserved_top"`

	ImageFormat  string `json:"image_format" yaml:"image_format"`
	JPEGQuality  int    `json:"jpeg_quality" yaml:"jpeg_quality"`
	FPS          int    `json:"fps" yaml:"fps"`
	VideoEncoder string `json:"video_encoder" yaml:"video_encoder"`
}

// InteractiveConfig configures interactive capture sessions
type InteractiveConfig struct {
	// HostWindow is a regular expression matched against window titles and
	// classes to find the host window. Empty means the focused window.
	HostWindow string `json:"host_window" yaml:"host_window"`

	HideSettleDelays map[string]time.Duration `json:"hide_settle_delays" yaml:"hide_settle_delays"`
	SelectionTimeout time.Duration            `json:"selection_timeout" yaml:"selection_timeout"`
	PreviewDir       string                   `json:"preview_dir" yaml:"preview_dir"`
	CopyToClipboard  bool                     `json:"copy_to_clipboard" yaml:"copy_to_clipboard"`
	Notify           bool                     `json:"notify" yaml:"notify"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Capture: CaptureConfig{
			Backend:      "auto",
			ImageFormat:  "png",
			JPEGQuality:  90,
			FPS:          30,
			VideoEncoder: "mjpeg",
		},
		Interactive: InteractiveConfig{
			HideSettleDelays: map[string]time.Duration{"windows": 600 * time.Millisecond},
			PreviewDir:       filepath.Join(os.TempDir(), "snapdesk"),
			CopyToClipboard:  true,
		},
	}
}

// Validate checks that every value is usable
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("%w: server_port %d out of range", ErrInvalidConfig, c.ServerPort)
	}
	switch c.Capture.Backend {
	case "auto", "portal", "x11", "screenshot":
	default:
		return fmt.Errorf("%w: capture.backend %q", ErrInvalidConfig, c.Capture.Backend)
	}
	if c.Capture.ReservedTop < 0 {
		return fmt.Errorf("%w: capture.reserved_top must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Capture.ImageFormat) {
	case "png", "jpg", "jpeg", "gif", "bmp", "tif", "tiff":
	default:
		return fmt.Errorf("%w: capture.image_format %q", ErrInvalidConfig, c.Capture.ImageFormat)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("%w: capture.jpeg_quality %d out of range", ErrInvalidConfig, c.Capture.JPEGQuality)
	}
	if c.Capture.FPS < 1 {
		return fmt.Errorf("%w: capture.fps must be positive", ErrInvalidConfig)
	}
	switch c.Capture.VideoEncoder {
	case "", "mjpeg", "gstreamer":
	default:
		return fmt.Errorf("%w: capture.video_encoder %q", ErrInvalidConfig, c.Capture.VideoEncoder)
	}
	if c.Interactive.SelectionTimeout < 0 {
		return fmt.Errorf("%w: interactive.selection_timeout must not be negative", ErrInvalidConfig)
	}
	for goos, d := range c.Interactive.HideSettleDelays {
		if d < 0 {
			return fmt.Errorf("%w: interactive.hide_settle_delays.%s must not be negative", ErrInvalidConfig, goos)
		}
	}
	return nil
}

func (c *Config) clone() *Config {
	cp := *c
	if c.Interactive.HideSettleDelays != nil {
		cp.Interactive.HideSettleDelays = make(map[string]time.Duration, len(c.Interactive.HideSettleDelays))
		for k, v := range c.Interactive.HideSettleDelays {
			cp.Interactive.HideSettleDelays[k] = v
		}
	}
	return &cp
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns ~/.config/snapdesk/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "snapdesk", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile uses
// DefaultPath. A missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	if configFile == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configFile = p
	}

	m := &Manager{configPath: configFile}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("backend", m.config.Capture.Backend).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk. Keys missing from the file keep
// their default values.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	return m.config.clone()
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg.clone()
	m.mu.Unlock()
	return m.Save()
}

// GetValue returns the value at a dotted key such as capture.fps
func (m *Manager) GetValue(key string) (interface{}, error) {
	tree, err := toTree(m.Get())
	if err != nil {
		return nil, err
	}

	var node interface{} = tree
	for _, part := range strings.Split(key, ".") {
		branch, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if node, ok = branch[part]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
	}
	return node, nil
}

// Set parses value as YAML, stores it at a dotted key and saves. The
// resulting configuration must validate.
func (m *Manager) Set(key, value string) error {
	var parsed interface{}
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}

	tree, err := toTree(m.Get())
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	branch := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := branch[part].(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		branch = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := branch[leaf]; !ok && !isMapBranch(parts[:len(parts)-1]) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	branch[leaf] = parsed

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg := Defaults()
	cfg.Interactive.HideSettleDelays = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}

	logger.WithComponent("config").Info().Str("key", key).Str("value", value).Msg("Config value set")
	return m.Update(cfg)
}

// isMapBranch reports whether path names a free-form map, where new keys
// may be added
func isMapBranch(path []string) bool {
	return len(path) == 2 && path[0] == "interactive" && path[1] == "hide_settle_delays"
}

// toTree converts cfg to nested maps keyed by YAML field names
func toTree(cfg *Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	tree := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return tree, nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
