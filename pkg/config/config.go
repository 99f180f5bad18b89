// Package config handles configuration loading and management
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// CurrentVersion is the only config version this build understands
	CurrentVersion = "1.0"

	// DefaultFileName is the config file looked up in the working directory
	DefaultFileName = "ltrt.config.yaml"

	// EnvPrefix prefixes environment overrides, e.g. LTRT_TARGET_FPS
	EnvPrefix = "LTRT"

	TrackerModeSynthetic = "synthetic"
	TrackerModeRemote    = "remote"

	SourceModeSynthetic = "synthetic"
)

// Config is the pipeline configuration
type Config struct {
	Version         string  `mapstructure:"version"`
	TargetFPS       float64 `mapstructure:"target_fps"`
	Cameras         []int   `mapstructure:"cameras"`
	CalibrationPath string  `mapstructure:"calibration_path"`

	Channels      ChannelsConfig      `mapstructure:"channels"`
	Timeouts      TimeoutsConfig      `mapstructure:"timeouts"`
	Aggregator    AggregatorConfig    `mapstructure:"aggregator"`
	Tracker       TrackerConfig       `mapstructure:"tracker"`
	Source        SourceConfig        `mapstructure:"source"`
	Recording     RecordingConfig     `mapstructure:"recording"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	StateDir      string              `mapstructure:"state_dir"`
}

// ChannelsConfig holds bounded channel capacities
type ChannelsConfig struct {
	RawFrames    int `mapstructure:"raw_frames"`
	TrackerInput int `mapstructure:"tracker_input"`
	Results      int `mapstructure:"results"`
	Output       int `mapstructure:"output"`
}

// TimeoutsConfig holds every bounded wait of the pipeline
type TimeoutsConfig struct {
	Receive        time.Duration `mapstructure:"receive"`
	SyncPoll       time.Duration `mapstructure:"sync_poll"`
	SendBlock      time.Duration `mapstructure:"send_block"`
	StartupGrace   time.Duration `mapstructure:"startup_grace"`
	Shutdown       time.Duration `mapstructure:"shutdown"`
	StallThreshold time.Duration `mapstructure:"stall_threshold"`
}

// AggregatorConfig bounds result aggregation
type AggregatorConfig struct {
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// TrackerConfig selects the tracker implementation. Remote trackers take
// one endpoint shared by every camera or one endpoint per camera, in camera
// order.
type TrackerConfig struct {
	Mode      string   `mapstructure:"mode"`
	Endpoints []string `mapstructure:"endpoints"`
}

// SourceConfig configures the frame sources
type SourceConfig struct {
	Mode    string        `mapstructure:"mode"`
	Frames  int           `mapstructure:"frames"`
	Latency time.Duration `mapstructure:"latency"`
	Paced   bool          `mapstructure:"paced"`
}

// RecordingConfig controls persisting triangulated output
type RecordingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Root    string `mapstructure:"root"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// NotificationsConfig toggles desktop notifications
type NotificationsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Manager handles configuration operations
type Manager struct {
	v *viper.Viper
}

// NewManager creates a new configuration manager with defaults and
// environment overrides registered
func NewManager() *Manager {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Manager{v: v}
}

// Viper exposes the underlying viper instance, e.g. for flag binding
func (m *Manager) Viper() *viper.Viper { return m.v }

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("version", def.Version)
	v.SetDefault("target_fps", def.TargetFPS)
	v.SetDefault("cameras", def.Cameras)
	v.SetDefault("calibration_path", def.CalibrationPath)

	v.SetDefault("channels.raw_frames", def.Channels.RawFrames)
	v.SetDefault("channels.tracker_input", def.Channels.TrackerInput)
	v.SetDefault("channels.results", def.Channels.Results)
	v.SetDefault("channels.output", def.Channels.Output)

	v.SetDefault("timeouts.receive", def.Timeouts.Receive)
	v.SetDefault("timeouts.sync_poll", def.Timeouts.SyncPoll)
	v.SetDefault("timeouts.send_block", def.Timeouts.SendBlock)
	v.SetDefault("timeouts.startup_grace", def.Timeouts.StartupGrace)
	v.SetDefault("timeouts.shutdown", def.Timeouts.Shutdown)
	v.SetDefault("timeouts.stall_threshold", def.Timeouts.StallThreshold)

	v.SetDefault("aggregator.max_in_flight", def.Aggregator.MaxInFlight)

	v.SetDefault("tracker.mode", def.Tracker.Mode)
	v.SetDefault("tracker.endpoints", def.Tracker.Endpoints)

	v.SetDefault("source.mode", def.Source.Mode)
	v.SetDefault("source.frames", def.Source.Frames)
	v.SetDefault("source.latency", def.Source.Latency)
	v.SetDefault("source.paced", def.Source.Paced)

	v.SetDefault("recording.enabled", def.Recording.Enabled)
	v.SetDefault("recording.root", def.Recording.Root)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)

	v.SetDefault("notifications.enabled", def.Notifications.Enabled)
	v.SetDefault("state_dir", def.StateDir)
}

// Default returns the default configuration: three cameras at 30 fps with
// synthetic sources and trackers
func Default() *Config {
	return &Config{
		Version:   CurrentVersion,
		TargetFPS: 30,
		Cameras:   []int{0, 1, 2},
		Channels: ChannelsConfig{
			RawFrames:    3,
			TrackerInput: 1,
			Results:      1,
			Output:       16,
		},
		Timeouts: TimeoutsConfig{
			Receive:      100 * time.Millisecond,
			SyncPoll:     2 * time.Millisecond,
			SendBlock:    250 * time.Millisecond,
			StartupGrace: 5 * time.Second,
			Shutdown:     5 * time.Second,
		},
		Aggregator: AggregatorConfig{MaxInFlight: 1},
		Tracker:    TrackerConfig{Mode: TrackerModeSynthetic},
		Source: SourceConfig{
			Mode:   SourceModeSynthetic,
			Frames: 300,
			Paced:  true,
		},
		Logging:  LoggingConfig{Level: "info"},
		StateDir: filepath.Join(".ltrt", "state"),
	}
}

// LoadConfig loads configuration from a file. An empty path looks for
// DefaultFileName in the working directory and falls back to defaults
// when there is none.
func (m *Manager) LoadConfig(path string) (*Config, error) {
	if path != "" {
		m.v.SetConfigFile(path)
	} else {
		m.v.AddConfigPath(".")
		m.v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		m.v.SetConfigType("yaml")
	}

	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := m.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file the last load read, if any
func (m *Manager) ConfigFileUsed() string { return m.v.ConfigFileUsed() }

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *Config) error {
	return cfg.Validate()
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %s", c.Version)
	}
	if c.TargetFPS <= 0 {
		return fmt.Errorf("target_fps must be positive, got %v", c.TargetFPS)
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("no cameras defined")
	}

	seen := make(map[int]bool, len(c.Cameras))
	for _, id := range c.Cameras {
		if id < 0 {
			return fmt.Errorf("invalid camera id: %d", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate camera id: %d", id)
		}
		seen[id] = true
	}

	capacities := map[string]int{
		"channels.raw_frames":    c.Channels.RawFrames,
		"channels.tracker_input": c.Channels.TrackerInput,
		"channels.results":       c.Channels.Results,
		"channels.output":        c.Channels.Output,
	}
	for key, n := range capacities {
		if n < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", key, n)
		}
	}

	timeouts := map[string]time.Duration{
		"timeouts.receive":       c.Timeouts.Receive,
		"timeouts.sync_poll":     c.Timeouts.SyncPoll,
		"timeouts.send_block":    c.Timeouts.SendBlock,
		"timeouts.startup_grace": c.Timeouts.StartupGrace,
		"timeouts.shutdown":      c.Timeouts.Shutdown,
	}
	for key, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Timeouts.StallThreshold < 0 {
		return fmt.Errorf("timeouts.stall_threshold must not be negative, got %s", c.Timeouts.StallThreshold)
	}

	if c.Aggregator.MaxInFlight < 1 {
		return fmt.Errorf("aggregator.max_in_flight must be at least 1, got %d", c.Aggregator.MaxInFlight)
	}

	switch c.Tracker.Mode {
	case TrackerModeSynthetic:
	case TrackerModeRemote:
		n := len(c.Tracker.Endpoints)
		if n != 1 && n != len(c.Cameras) {
			return fmt.Errorf("tracker.endpoints needs 1 or %d entries, got %d", len(c.Cameras), n)
		}
	default:
		return fmt.Errorf("invalid tracker mode: %s", c.Tracker.Mode)
	}

	if c.Source.Mode != SourceModeSynthetic {
		return fmt.Errorf("invalid source mode: %s", c.Source.Mode)
	}
	if c.Source.Frames < 0 {
		return fmt.Errorf("source.frames must not be negative, got %d", c.Source.Frames)
	}

	if c.CalibrationPath != "" {
		if _, err := os.Stat(c.CalibrationPath); err != nil {
			return fmt.Errorf("calibration file: %w", err)
		}
	}
	return nil
}

// Cutoff is the alignment window derived from the target frame rate
func (c *Config) Cutoff() time.Duration {
	return time.Duration(float64(time.Second) / c.TargetFPS)
}

// TrackerEndpoint returns the remote tracker address for the i-th camera
func (c *Config) TrackerEndpoint(i int) string {
	switch len(c.Tracker.Endpoints) {
	case 0:
		return ""
	case 1:
		return c.Tracker.Endpoints[0]
	default:
		return c.Tracker.Endpoints[i]
	}
}

// Marshal renders the configuration as YAML with durations as strings
func (c *Config) Marshal() ([]byte, error) {
	doc := map[string]any{
		"version":          c.Version,
		"target_fps":       c.TargetFPS,
		"cameras":          c.Cameras,
		"calibration_path": c.CalibrationPath,
		"channels": map[string]any{
			"raw_frames":    c.Channels.RawFrames,
			"tracker_input": c.Channels.TrackerInput,
			"results":       c.Channels.Results,
			"output":        c.Channels.Output,
		},
		"timeouts": map[string]any{
			"receive":         c.Timeouts.Receive.String(),
			"sync_poll":       c.Timeouts.SyncPoll.String(),
			"send_block":      c.Timeouts.SendBlock.String(),
			"startup_grace":   c.Timeouts.StartupGrace.String(),
			"shutdown":        c.Timeouts.Shutdown.String(),
			"stall_threshold": c.Timeouts.StallThreshold.String(),
		},
		"aggregator": map[string]any{
			"max_in_flight": c.Aggregator.MaxInFlight,
		},
		"tracker": map[string]any{
			"mode":      c.Tracker.Mode,
			"endpoints": nonNil(c.Tracker.Endpoints),
		},
		"source": map[string]any{
			"mode":    c.Source.Mode,
			"frames":  c.Source.Frames,
			"latency": c.Source.Latency.String(),
			"paced":   c.Source.Paced,
		},
		"recording": map[string]any{
			"enabled": c.Recording.Enabled,
			"root":    c.Recording.Root,
		},
		"logging": map[string]any{
			"level": c.Logging.Level,
			"file":  c.Logging.File,
		},
		"notifications": map[string]any{
			"enabled": c.Notifications.Enabled,
		},
		"state_dir": c.StateDir,
	}
	return yaml.Marshal(doc)
}

// WriteFile writes the configuration to path, refusing to overwrite unless
// force is set
func (c *Config) WriteFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
