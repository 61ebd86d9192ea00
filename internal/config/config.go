// Package config handles TOML/YAML configuration loading with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/setevik/logrelay/internal/entry"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the top-level configuration for logrelay.
type Config struct {
	Console Console       `toml:"console" yaml:"console"`
	Capture CaptureConfig `toml:"capture" yaml:"capture"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// Console configures the log store and the distribution server.
type Console struct {
	Enabled         bool     `toml:"enabled" yaml:"enabled"`
	Host            string   `toml:"host" yaml:"host"`
	Port            int      `toml:"port" yaml:"port"` // streaming listener binds Port+1
	PersistLogs     bool     `toml:"persist_logs" yaml:"persist_logs"`
	MaxLogs         int      `toml:"max_logs" yaml:"max_logs"`
	LogLevels       []string `toml:"log_levels" yaml:"log_levels"`
	Debug           bool     `toml:"debug" yaml:"debug"`
	ExecuteCommands bool     `toml:"execute_commands" yaml:"execute_commands"`
	AllowedCommands []string `toml:"allowed_commands" yaml:"allowed_commands"`
}

// CaptureConfig describes an optional child process whose output is captured.
type CaptureConfig struct {
	Command     []string `toml:"command" yaml:"command"`
	RestartWait Duration `toml:"restart_wait" yaml:"restart_wait"`
	MaxRestarts int      `toml:"max_restarts" yaml:"max_restarts"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Duration wraps time.Duration for string parsing (e.g. "5s", "1m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultAllowedCommands are the command prefixes observers may execute.
var DefaultAllowedCommands = []string{"npm run dev", "npm run build", "npm test", "ls", "pwd"}

// DefaultConsole returns the console defaults.
func DefaultConsole() Console {
	levels := make([]string, 0, 4)
	for _, l := range entry.AllLevels() {
		levels = append(levels, string(l))
	}
	return Console{
		Enabled:         false,
		Port:            3001,
		PersistLogs:     true,
		MaxLogs:         2000,
		LogLevels:       levels,
		AllowedCommands: append([]string(nil), DefaultAllowedCommands...),
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Console: DefaultConsole(),
		Capture: CaptureConfig{
			RestartWait: Duration{5 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "logrelay", "config.toml")
}

// Load reads configuration from the given path, falling back to defaults
// for any unset fields. If the file does not exist, returns defaults.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	return c.Console.Validate()
}

// Validate checks the console settings.
func (c Console) Validate() error {
	if c.Port < 0 || c.Port > 65534 {
		return fmt.Errorf("%w: port %d out of range 0-65534", ErrInvalid, c.Port)
	}
	if c.MaxLogs < 1 {
		return fmt.Errorf("%w: max_logs must be positive, got %d", ErrInvalid, c.MaxLogs)
	}
	if _, err := c.Levels(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Levels parses LogLevels into an allow-list.
func (c Console) Levels() (entry.LevelSet, error) {
	set := entry.NewLevelSet()
	for _, name := range c.LogLevels {
		l, err := entry.ParseLevel(name)
		if err != nil {
			return nil, err
		}
		set[l] = struct{}{}
	}
	return set, nil
}

// QueryAddr returns the query listener address.
func (c Console) QueryAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StreamAddr returns the streaming listener address (Port+1, or an
// ephemeral port when Port is 0).
func (c Console) StreamAddr() string {
	port := 0
	if c.Port != 0 {
		port = c.Port + 1
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// CommandAllowed reports whether cmd starts with one of the allowed prefixes.
func (c Console) CommandAllowed(cmd string) bool {
	for _, prefix := range c.AllowedCommands {
		if prefix != "" && strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}
