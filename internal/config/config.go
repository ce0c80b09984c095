// Package config loads bookmarkd settings from a YAML file and the
// environment via viper, with live reload for the hot-applicable subset.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `mapstructure:"addr"`

	// DBPath is the SQLite database file location.
	DBPath string `mapstructure:"db_path"`

	// AuthSecret is the shared secret the external token issuer signs with.
	AuthSecret string `mapstructure:"auth_secret"`

	// PingInterval / PongTimeout drive the WebSocket liveness probe.
	// Both are hot-reloadable.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout"`

	// Log file settings. Empty LogFile means stderr, no rotation.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

// Loader owns the viper instance so Watch can re-read the same sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader bound to the given config file path. An empty
// path searches the working directory and /etc/bookmarkd for
// bookmarkd.yaml. Environment variables prefixed BOOKMARKD_ override file
// values (BOOKMARKD_DB_PATH, BOOKMARKD_ADDR, ...).
func NewLoader(path string) *Loader {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "bookmarkd.db")
	v.SetDefault("auth_secret", "")
	v.SetDefault("ping_interval", 30*time.Second)
	v.SetDefault("pong_timeout", 10*time.Second)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 14)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bookmarkd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bookmarkd")
	}

	v.SetEnvPrefix("BOOKMARKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Load reads the configuration. A missing config file is fine (defaults and
// environment apply); a malformed one is an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the config whenever the file changes and hands the new
// value to onChange. Only hot-applicable settings (liveness intervals, log
// settings) take effect without a restart; the caller decides what to apply.
func (l *Loader) Watch(logger *log.Logger, onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			logger.Printf("Ignoring config change %s: %v", e.Name, err)
			return
		}
		if err := cfg.validate(); err != nil {
			logger.Printf("Ignoring config change %s: %v", e.Name, err)
			return
		}
		logger.Printf("Config reloaded from %s", e.Name)
		onChange(&cfg)
	})
	l.v.WatchConfig()
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive")
	}
	if c.PongTimeout <= 0 {
		return fmt.Errorf("pong_timeout must be positive")
	}
	return nil
}
