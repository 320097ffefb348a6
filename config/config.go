package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the relay looks for its config when neither --config
// nor DEBUGLOG_CONFIG names a file.
const DefaultPath = "data/config/debuglog.yaml"

// EnvPath names the environment variable that overrides DefaultPath.
const EnvPath = "DEBUGLOG_CONFIG"

// UI modes.
const (
	UIModeAuto    = "auto"
	UIModeTview   = "tview"
	UIModeConsole = "console"
)

// Config represents the complete relay configuration
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Filter  FilterConfig  `yaml:"filter"`
	Queue   QueueConfig   `yaml:"queue"`
	UI      UIConfig      `yaml:"ui"`
	Logging LoggingConfig `yaml:"logging"`
	Stats   StatsConfig   `yaml:"stats"`

	// LoadedFrom is the file the config was read from; empty for defaults.
	LoadedFrom string `yaml:"-"`
}

// ListenConfig contains TCP listener and session settings
type ListenConfig struct {
	BindAddress     string `yaml:"bind_address"`
	Port            int    `yaml:"port"`
	ReadTimeoutMS   int    `yaml:"read_timeout_ms"`
	AcceptTimeoutMS int    `yaml:"accept_timeout_ms"`
	WriteTimeoutMS  int    `yaml:"write_timeout_ms"`
	RecvBufferBytes int    `yaml:"recv_buffer_bytes"`
	MaxLineBytes    int    `yaml:"max_line_bytes"`
	MaxSessions     int    `yaml:"max_sessions"`
}

// FilterConfig holds the sender exclusions applied before events are queued.
type FilterConfig struct {
	ExcludeDownload bool     `yaml:"exclude_download"`
	Exclude         []string `yaml:"exclude"`
}

// QueueConfig bounds the hand-off queue; 0 means unbounded.
type QueueConfig struct {
	MaxItems int `yaml:"max_items"`
}

// UIConfig selects and sizes the display.
type UIConfig struct {
	Mode      string `yaml:"mode"`
	MaxLines  int    `yaml:"max_lines"`
	RefreshMS int    `yaml:"refresh_ms"`
	Color     bool   `yaml:"color"`
}

// LoggingConfig controls the diagnostic log file (relay operation only).
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// StatsConfig controls the periodic stats line; 0 disables it.
type StatsConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			BindAddress:     "127.0.0.1",
			Port:            8765,
			ReadTimeoutMS:   1000,
			AcceptTimeoutMS: 1000,
			WriteTimeoutMS:  2000,
			RecvBufferBytes: 64 * 1024,
			MaxLineBytes:    1 << 20,
		},
		Filter: FilterConfig{ExcludeDownload: true},
		UI: UIConfig{
			Mode:      UIModeAuto,
			MaxLines:  100000,
			RefreshMS: 50,
			Color:     true,
		},
		Logging: LoggingConfig{
			Dir:           "data/logs",
			RetentionDays: 7,
		},
		Stats: StatsConfig{IntervalSeconds: 60},
	}
}

// ResolvePath picks the config file: an explicit flag wins, then the
// environment, then DefaultPath. explicit is false only for DefaultPath.
func ResolvePath(flagPath string) (path string, explicit bool) {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p, true
	}
	return DefaultPath, false
}

// Load reads a YAML file over the defaults. Unknown keys are rejected so
// typos surface at startup. A missing file returns an error wrapping
// os.ErrNotExist.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	cfg.LoadedFrom = filename
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}
	return cfg, nil
}

// LoadOptional is Load, except that a missing non-explicit file yields the
// defaults.
func LoadOptional(filename string, explicit bool) (*Config, error) {
	cfg, err := Load(filename)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and normalizes enum fields in place.
func (c *Config) Validate() error {
	var errs []error
	host := strings.TrimSpace(c.Listen.BindAddress)
	if host == "" {
		host = "127.0.0.1"
	}
	if ip := net.ParseIP(host); !strings.EqualFold(host, "localhost") && (ip == nil || !ip.IsLoopback()) {
		errs = append(errs, fmt.Errorf("listen.bind_address %q is not a loopback address", c.Listen.BindAddress))
	}
	c.Listen.BindAddress = host
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	for name, v := range map[string]int{
		"listen.read_timeout_ms":   c.Listen.ReadTimeoutMS,
		"listen.accept_timeout_ms": c.Listen.AcceptTimeoutMS,
		"listen.write_timeout_ms":  c.Listen.WriteTimeoutMS,
		"listen.recv_buffer_bytes": c.Listen.RecvBufferBytes,
		"listen.max_line_bytes":    c.Listen.MaxLineBytes,
		"listen.max_sessions":      c.Listen.MaxSessions,
		"queue.max_items":          c.Queue.MaxItems,
		"ui.max_lines":             c.UI.MaxLines,
		"ui.refresh_ms":            c.UI.RefreshMS,
		"logging.retention_days":   c.Logging.RetentionDays,
		"stats.interval_seconds":   c.Stats.IntervalSeconds,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %d)", name, v))
		}
	}
	mode := strings.ToLower(strings.TrimSpace(c.UI.Mode))
	switch mode {
	case "":
		mode = UIModeAuto
	case UIModeAuto, UIModeTview, UIModeConsole:
	default:
		errs = append(errs, fmt.Errorf("ui.mode %q must be one of auto, tview, console", c.UI.Mode))
	}
	c.UI.Mode = mode
	if c.Logging.Enabled && strings.TrimSpace(c.Logging.Dir) == "" {
		errs = append(errs, errors.New("logging.dir is required when logging.enabled is true"))
	}
	return errors.Join(errs...)
}

// ReadTimeout returns the per-read session deadline.
func (l ListenConfig) ReadTimeout() time.Duration {
	return time.Duration(l.ReadTimeoutMS) * time.Millisecond
}

// AcceptTimeout returns the per-accept listener deadline.
func (l ListenConfig) AcceptTimeout() time.Duration {
	return time.Duration(l.AcceptTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the handshake reply deadline.
func (l ListenConfig) WriteTimeout() time.Duration {
	return time.Duration(l.WriteTimeoutMS) * time.Millisecond
}

// RefreshInterval returns the viewer's queue drain period.
func (u UIConfig) RefreshInterval() time.Duration {
	return time.Duration(u.RefreshMS) * time.Millisecond
}

// Interval returns the stats logging period; 0 disables it.
func (s StatsConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Print displays the configuration
func (c *Config) Print(w io.Writer) {
	source := c.LoadedFrom
	if source == "" {
		source = "(built-in defaults)"
	}
	fmt.Fprintf(w, "Config: %s\n", source)
	fmt.Fprintf(w, "Listen: %s:%d (read=%dms accept=%dms write=%dms)\n",
		c.Listen.BindAddress, c.Listen.Port, c.Listen.ReadTimeoutMS, c.Listen.AcceptTimeoutMS, c.Listen.WriteTimeoutMS)
	sessions := "unlimited"
	if c.Listen.MaxSessions > 0 {
		sessions = fmt.Sprintf("%d", c.Listen.MaxSessions)
	}
	fmt.Fprintf(w, "Sessions: max %s, recv buffer %d bytes, max line %d bytes\n",
		sessions, c.Listen.RecvBufferBytes, c.Listen.MaxLineBytes)
	queueDesc := "unbounded"
	if c.Queue.MaxItems > 0 {
		queueDesc = fmt.Sprintf("max %d items (drop oldest)", c.Queue.MaxItems)
	}
	fmt.Fprintf(w, "Queue: %s\n", queueDesc)
	if c.Filter.ExcludeDownload || len(c.Filter.Exclude) > 0 {
		fmt.Fprintf(w, "Exclude: download defaults=%t extra=[%s]\n", c.Filter.ExcludeDownload, strings.Join(c.Filter.Exclude, ", "))
	}
	fmt.Fprintf(w, "UI: %s (history %d lines, refresh %dms, color=%t)\n", c.UI.Mode, c.UI.MaxLines, c.UI.RefreshMS, c.UI.Color)
	if c.Logging.Enabled {
		fmt.Fprintf(w, "Logging: %s (retention %d days)\n", c.Logging.Dir, c.Logging.RetentionDays)
	}
}
