// Package config loads service configuration from defaults, an optional
// config file, CHAT_* environment variables and command-line flags, in
// ascending precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type SessionConfig struct {
	// Buffer is the per-session outbound queue depth. A session whose
	// queue stays full past SendTimeout is closed as a slow consumer.
	Buffer       int           `mapstructure:"buffer"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
}

type EngineConfig struct {
	// BufferCap caps the client-side causal buffer; zero is unbounded.
	BufferCap          int `mapstructure:"buffer_cap"`
	DeliveredCacheSize int `mapstructure:"delivered_cache_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File enables rotating file output instead of stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Config struct {
	Listen       string        `mapstructure:"listen"`
	DefaultRoom  string        `mapstructure:"default_room"`
	HistoryLimit int           `mapstructure:"history_limit"`
	Session      SessionConfig `mapstructure:"session"`
	Engine       EngineConfig  `mapstructure:"engine"`
	Log          LogConfig     `mapstructure:"log"`

	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("default_room", "main")
	v.SetDefault("history_limit", 50)
	v.SetDefault("session.buffer", 256)
	v.SetDefault("session.send_timeout", 500*time.Millisecond)
	v.SetDefault("session.ping_interval", 30*time.Second)
	v.SetDefault("session.write_timeout", 10*time.Second)
	v.SetDefault("session.settle_delay", 100*time.Millisecond)
	v.SetDefault("engine.buffer_cap", 0)
	v.SetDefault("engine.delivered_cache_size", 4096)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
}

func bindFlags(v *viper.Viper) {
	fs := pflag.NewFlagSet("chat-delivery-service", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {} // the CLI layer owns help output

	fs.String("listen", ":8080", "listen address")
	fs.String("default-room", "main", "room created at hub start")
	fs.Int("history-limit", 50, "history window per room")
	fs.String("log-level", "info", "log level")

	_ = v.BindPFlag("listen", fs.Lookup("listen"))
	_ = v.BindPFlag("default_room", fs.Lookup("default-room"))
	_ = v.BindPFlag("history_limit", fs.Lookup("history-limit"))
	_ = v.BindPFlag("log.level", fs.Lookup("log-level"))

	_ = fs.Parse(os.Args[1:])
}

// LoadConfig reads configuration, optionally from the given file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindFlags(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Watch re-reads the config file on change and hands the fresh Config to
// onChange. It is a no-op when no config file is in use.
func (c *Config) Watch(logger *slog.Logger, onChange func(*Config)) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		fresh := &Config{v: c.v}
		if err := c.v.Unmarshal(fresh); err != nil {
			logger.Warn("config reload failed", "file", e.Name, "err", err)
			return
		}
		logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())
		onChange(fresh)
	})
	c.v.WatchConfig()
}

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
