// Package config loads danmu configuration with viper.
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

// EnvPrefix is the prefix for environment overrides (DANMU_QUEUE_CAPACITY, ...).
const EnvPrefix = "DANMU"

// Config is the full application configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Feed     FeedConfig     `mapstructure:"feed" yaml:"feed"`
	Actuator ActuatorConfig `mapstructure:"actuator" yaml:"actuator"`
	Actions  ActionsConfig  `mapstructure:"actions" yaml:"actions"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Daemon   DaemonConfig   `mapstructure:"daemon" yaml:"daemon"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Format  string `mapstructure:"format" yaml:"format"`
	NoColor bool   `mapstructure:"no_color" yaml:"no_color"`
}

// QueueConfig configures pre-input batching and pacing.
type QueueConfig struct {
	// Capacity is the maximum number of pending batch segments.
	Capacity int `mapstructure:"capacity" yaml:"capacity"`

	// Separator splits a comment into batch segments.
	Separator string `mapstructure:"separator" yaml:"separator"`

	// Interval is the pause between two batch commands.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// StopTimeout bounds how long a new batch waits for the running one to stop.
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// FeedConfig configures the live comment poller.
type FeedConfig struct {
	RoomID      string        `mapstructure:"room_id" yaml:"room_id"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	MinDelay    time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	IgnoreFirst bool          `mapstructure:"ignore_first" yaml:"ignore_first"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// ActuatorConfig selects the input simulation backend.
type ActuatorConfig struct {
	// Backend is one of dryrun, xdotool, noop.
	Backend     string `mapstructure:"backend" yaml:"backend"`
	XdotoolPath string `mapstructure:"xdotool_path" yaml:"xdotool_path"`
}

// ActionsConfig configures the trigger table.
type ActionsConfig struct {
	// KeymapFile replaces the builtin keyword sets when set.
	KeymapFile string `mapstructure:"keymap_file" yaml:"keymap_file"`
}

// DatabaseConfig configures the SQLite event log.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DaemonConfig configures the gRPC control endpoint.
type DaemonConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	Host              string  `mapstructure:"host" yaml:"host"`
	Port              int     `mapstructure:"port" yaml:"port"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// Actuator backends.
const (
	BackendDryRun  = "dryrun"
	BackendXdotool = "xdotool"
	BackendNoop    = "noop"
)

// DefaultConfigDir returns ~/.config/danmu.
func DefaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "danmu")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "danmu")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Queue: QueueConfig{
			Capacity:    5,
			Separator:   "，",
			Interval:    500 * time.Millisecond,
			StopTimeout: 5 * time.Second,
		},
		Feed: FeedConfig{
			Endpoint:    "https://api.live.bilibili.com/xlive/web-room/v1/dM/gethistory",
			MinDelay:    1 * time.Second,
			MaxDelay:    3 * time.Second,
			IgnoreFirst: true,
			Timeout:     10 * time.Second,
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36",
		},
		Actuator: ActuatorConfig{
			Backend:     BackendDryRun,
			XdotoolPath: "xdotool",
		},
		Database: DatabaseConfig{
			Enabled: true,
			Path:    filepath.Join(DefaultConfigDir(), "danmu.db"),
		},
		Daemon: DaemonConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              7456,
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// Load reads configuration from path (optional), the default search
// locations and DANMU_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.no_color", cfg.Logging.NoColor)

	v.SetDefault("queue.capacity", cfg.Queue.Capacity)
	v.SetDefault("queue.separator", cfg.Queue.Separator)
	v.SetDefault("queue.interval", cfg.Queue.Interval)
	v.SetDefault("queue.stop_timeout", cfg.Queue.StopTimeout)

	v.SetDefault("feed.room_id", cfg.Feed.RoomID)
	v.SetDefault("feed.endpoint", cfg.Feed.Endpoint)
	v.SetDefault("feed.min_delay", cfg.Feed.MinDelay)
	v.SetDefault("feed.max_delay", cfg.Feed.MaxDelay)
	v.SetDefault("feed.ignore_first", cfg.Feed.IgnoreFirst)
	v.SetDefault("feed.timeout", cfg.Feed.Timeout)
	v.SetDefault("feed.user_agent", cfg.Feed.UserAgent)

	v.SetDefault("actuator.backend", cfg.Actuator.Backend)
	v.SetDefault("actuator.xdotool_path", cfg.Actuator.XdotoolPath)

	v.SetDefault("actions.keymap_file", cfg.Actions.KeymapFile)

	v.SetDefault("database.enabled", cfg.Database.Enabled)
	v.SetDefault("database.path", cfg.Database.Path)

	v.SetDefault("daemon.enabled", cfg.Daemon.Enabled)
	v.SetDefault("daemon.host", cfg.Daemon.Host)
	v.SetDefault("daemon.port", cfg.Daemon.Port)
	v.SetDefault("daemon.requests_per_second", cfg.Daemon.RequestsPerSecond)
	v.SetDefault("daemon.burst", cfg.Daemon.Burst)
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	var problems []string

	if c.Queue.Capacity <= 0 {
		problems = append(problems, "queue.capacity must be positive")
	}
	if c.Queue.Separator == "" {
		problems = append(problems, "queue.separator is required")
	}
	if c.Queue.Interval < 0 {
		problems = append(problems, "queue.interval must not be negative")
	}
	if c.Queue.StopTimeout <= 0 {
		problems = append(problems, "queue.stop_timeout must be positive")
	}
	if c.Feed.MinDelay < 0 || c.Feed.MaxDelay < c.Feed.MinDelay {
		problems = append(problems, "feed.min_delay must be >= 0 and <= feed.max_delay")
	}
	if c.Feed.RoomID != "" && !IsValidRoomID(c.Feed.RoomID) {
		problems = append(problems, fmt.Sprintf("feed.room_id %q must be numeric", c.Feed.RoomID))
	}
	switch c.Actuator.Backend {
	case BackendDryRun, BackendXdotool, BackendNoop:
	default:
		problems = append(problems, fmt.Sprintf("actuator.backend %q is not one of dryrun, xdotool, noop", c.Actuator.Backend))
	}
	if c.Daemon.Enabled && (c.Daemon.Port <= 0 || c.Daemon.Port > 65535) {
		problems = append(problems, "daemon.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsValidRoomID reports whether id is a non-empty string of ASCII digits.
func IsValidRoomID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// WriteDefault writes the default configuration as YAML to path.
// Existing files are left untouched unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
