// Package config loads the daemon configuration from file, environment,
// and flags via viper. The file is chatterd.toml in the working directory
// or the state directory; every key can be overridden with a CHATTERD_*
// environment variable.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the daemon's full configuration.
type Config struct {
	Listen  Listen
	Dir     string
	Logging Logging
	Session Session
	History History
}

// Listen selects the control-protocol transport.
type Listen struct {
	// Network is "tcp" or "unix".
	Network string
	// Address and Port apply to the tcp transport.
	Address string
	Port    int
	// Socket is the unix socket file, relative paths resolve under Dir.
	Socket string
}

// Logging configures the root logger.
type Logging struct {
	Level  string
	Format string // "text" or "json"
	File   string // empty logs to stderr; relative paths resolve under Dir
}

// Session carries the per-account worker timing constants.
type Session struct {
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	FilterOwn      bool
}

// History selects the message history backend.
type History struct {
	Backend string // "memory" or "sqlite"
	Path    string // sqlite file, relative paths resolve under Dir
}

// SetDefaults installs the default values on v. Call before binding flags
// so flag defaults and config defaults agree.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen.network", "tcp")
	v.SetDefault("listen.address", "localhost")
	v.SetDefault("listen.port", 32000)
	v.SetDefault("listen.socket", "chatterd.sock")
	v.SetDefault("dir", "chatterd")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("session.poll_interval", 100*time.Millisecond)
	v.SetDefault("session.reconnect_delay", 10*time.Second)
	v.SetDefault("session.filter_own", true)
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.path", "history.db")
}

// Load reads the configuration. A missing config file is fine; unknown
// values are not.
func Load(v *viper.Viper) (Config, error) {
	v.SetConfigName("chatterd")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if dir := v.GetString("dir"); dir != "" {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("CHATTERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v)
}

// Watch re-reads the config file on change and invokes onChange with the
// new configuration. Only used for settings that are safe to flip at
// runtime, such as the log level.
func Watch(v *viper.Viper, onChange func(Config)) {
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := fromViper(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Listen: Listen{
			Network: v.GetString("listen.network"),
			Address: v.GetString("listen.address"),
			Port:    v.GetInt("listen.port"),
			Socket:  v.GetString("listen.socket"),
		},
		Dir: v.GetString("dir"),
		Logging: Logging{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
			File:   v.GetString("logging.file"),
		},
		Session: Session{
			PollInterval:   v.GetDuration("session.poll_interval"),
			ReconnectDelay: v.GetDuration("session.reconnect_delay"),
			FilterOwn:      v.GetBool("session.filter_own"),
		},
		History: History{
			Backend: v.GetString("history.backend"),
			Path:    v.GetString("history.path"),
		},
	}

	switch cfg.Listen.Network {
	case "tcp", "unix":
	default:
		return Config{}, fmt.Errorf("unsupported listen network %q", cfg.Listen.Network)
	}
	switch cfg.History.Backend {
	case "memory", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported history backend %q", cfg.History.Backend)
	}

	return cfg, nil
}

// ListenAddress returns the endpoint for the selected transport: the
// "host:port" pair for tcp, the resolved socket path for unix.
func (c Config) ListenAddress() string {
	if c.Listen.Network == "unix" {
		return c.resolve(c.Listen.Socket)
	}
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}

// AccountsPath returns the accounts file location.
func (c Config) AccountsPath() string {
	return filepath.Join(c.Dir, "accounts.toml")
}

// HistoryPath returns the sqlite history file location.
func (c Config) HistoryPath() string {
	return c.resolve(c.History.Path)
}

// LogFilePath returns the log file location, or "" for stderr.
func (c Config) LogFilePath() string {
	if c.Logging.File == "" {
		return ""
	}
	return c.resolve(c.Logging.File)
}

func (c Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir, path)
}
