package linuxcnc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/sleepybishop/linuxcnc-cli/default"
)

// Read policies for the session transport.
const (
	// PolicyPoll waits up to read_timeout for the socket to become readable.
	PolicyPoll = "poll"
	// PolicyDelay sleeps read_delay after sending, then reads.
	PolicyDelay = "delay"
)

// Color modes for the ui.color setting.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config represents the user's linuxcnc-cli configuration.
type Config struct {
	Version    int                 `toml:"version"`
	Connection ConnectionConfig    `toml:"connection"`
	Session    SessionConfig       `toml:"session"`
	Files      FilesConfig         `toml:"files"`
	History    HistoryConfig       `toml:"history"`
	UI         UIConfig            `toml:"ui"`
	Builtins   map[string][]string `toml:"builtins"`

	// undecoded holds keys present in the file that no field consumed.
	undecoded []string
}

// ConnectionConfig holds transport settings.
type ConnectionConfig struct {
	Port          int           `toml:"port"`
	DialTimeout   time.Duration `toml:"dial_timeout"`
	ReadPolicy    string        `toml:"read_policy"`
	ReadTimeout   time.Duration `toml:"read_timeout"`
	ReadDelay     time.Duration `toml:"read_delay"`
	BufferSize    int           `toml:"buffer_size"`
	MaxLineLength int           `toml:"max_line_length"`
}

// SessionConfig holds interaction loop behaviour.
type SessionConfig struct {
	ErrorCheck         bool   `toml:"error_check"`
	ErrorQuery         string `toml:"error_query"`
	ErrorOK            string `toml:"error_ok"`
	ExitOnUnknownMacro bool   `toml:"exit_on_unknown_macro"`
	EchoBuiltins       bool   `toml:"echo_builtins"`
}

// FilesConfig holds the paths of the vocabulary, history and macro resources.
// Relative paths are resolved against the working directory.
type FilesConfig struct {
	Vocabulary string `toml:"vocabulary"`
	History    string `toml:"history"`
	MacroDir   string `toml:"macro_dir"`
	Transcript string `toml:"transcript"`
}

// HistoryConfig holds history settings.
type HistoryConfig struct {
	MaxLen int `toml:"max_len"`
}

// UIConfig holds terminal presentation settings.
type UIConfig struct {
	Color string `toml:"color"`
}

// ConfigDir returns the config directory path.
// Resolution order: $LINUXCNC_CLI_CONFIG_DIR > $XDG_CONFIG_HOME/linuxcnc-cli > ~/.config/linuxcnc-cli
func ConfigDir() string {
	if dir := os.Getenv("LINUXCNC_CLI_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "linuxcnc-cli")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "linuxcnc-cli-config")
	}
	return filepath.Join(home, ".config", "linuxcnc-cli")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("linuxcnc: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from path, or returns defaults if the file does not exist.
// Values in the file are decoded over the defaults, so absent keys keep their
// default value. An empty path means ConfigPath().
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	// A file-level [builtins] table replaces the defaults wholesale.
	builtins := cfg.Builtins
	cfg.Builtins = nil

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if !md.IsDefined("builtins") {
		cfg.Builtins = builtins
	}
	for _, key := range md.Undecoded() {
		cfg.undecoded = append(cfg.undecoded, key.String())
	}
	return cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	for _, key := range cfg.undecoded {
		warnings = append(warnings, "unknown config key: "+key)
	}
	switch cfg.Connection.ReadPolicy {
	case PolicyPoll, PolicyDelay:
	default:
		warnings = append(warnings, fmt.Sprintf("unknown read_policy %q; using %q", cfg.Connection.ReadPolicy, PolicyPoll))
	}
	if cfg.Connection.ReadPolicy == PolicyDelay && cfg.Connection.ReadTimeout == 0 {
		warnings = append(warnings, "read_policy is delay with read_timeout 0; a silent remote will block the console")
	}
	if cfg.Session.ErrorCheck && cfg.Session.ErrorQuery == "" {
		warnings = append(warnings, "error_check is enabled but error_query is empty; error checking disabled")
	}
	if cfg.History.MaxLen < 1 {
		warnings = append(warnings, "history max_len must be at least 1")
	}
	switch cfg.UI.Color {
	case ColorAuto, ColorAlways, ColorNever, "":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown ui.color %q", cfg.UI.Color))
	}
	for _, name := range BuiltinNames(cfg) {
		if strings.ContainsAny(name, " \t/") {
			warnings = append(warnings, fmt.Sprintf("builtin name %q cannot be typed at the prompt", name))
		}
	}
	return warnings
}

// BuiltinNames returns the configured builtin sequence names in sorted order.
func BuiltinNames(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	names := make([]string, 0, len(cfg.Builtins))
	for name := range cfg.Builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePort returns the remote shell port.
// Priority: $LINUXCNC_CLI_PORT env > config value.
func ResolvePort(cfg *Config) int {
	if v := os.Getenv("LINUXCNC_CLI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	if cfg != nil {
		return cfg.Connection.Port
	}
	return 0
}

// ResolveReadTimeout returns the bounded read window.
// Priority: $LINUXCNC_CLI_READ_TIMEOUT env (Go duration) > config value.
func ResolveReadTimeout(cfg *Config) time.Duration {
	if v := os.Getenv("LINUXCNC_CLI_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	if cfg != nil {
		return cfg.Connection.ReadTimeout
	}
	return 0
}

// ResolveReadPolicy returns the read policy, falling back to PolicyPoll for unknown values.
func ResolveReadPolicy(cfg *Config) string {
	if cfg != nil && cfg.Connection.ReadPolicy == PolicyDelay {
		return PolicyDelay
	}
	return PolicyPoll
}

// ResolveHistoryPath returns the history file path.
// Priority: $LINUXCNC_CLI_HISTORY env > config value.
func ResolveHistoryPath(cfg *Config) string {
	if path := os.Getenv("LINUXCNC_CLI_HISTORY"); path != "" {
		return path
	}
	if cfg != nil {
		return cfg.Files.History
	}
	return ""
}

// ErrorCheckEnabled returns true when the post-command error query should run.
func ErrorCheckEnabled(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Session.ErrorCheck && cfg.Session.ErrorQuery != ""
}
