package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// Config represents the global ~/.shopchat/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	// UserID is the local identity; it is issued elsewhere and only stored here.
	UserID string `toml:"user_id"`
	Broker Broker `toml:"broker"`
	Chat   Chat   `toml:"chat"`
	Log    Log    `toml:"log"`
}

// Broker holds MQTT connection settings.
type Broker struct {
	URL            string   `toml:"url"`
	ClientIDPrefix string   `toml:"client_id_prefix"`
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	QoS            int      `toml:"qos"`
	KeepAlive      Duration `toml:"keep_alive"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	AutoReconnect  bool     `toml:"auto_reconnect"`
}

// Chat holds session tuning.
type Chat struct {
	TypingWindow   Duration `toml:"typing_window"`
	TypingThrottle Duration `toml:"typing_throttle"`
	StoreTimeout   Duration `toml:"store_timeout"`
	Outbox         bool     `toml:"outbox"`
}

// Log holds logger settings.
type Log struct {
	Level string `toml:"level"`
	// Console mirrors the log file on stderr.
	Console bool `toml:"console"`
}

// Duration is a time.Duration written as a Go duration string ("500ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns the configuration used for missing keys.
func Defaults() *Config {
	return &Config{
		DefaultProfile: "main",
		Broker: Broker{
			URL:            "tcp://localhost:1883",
			ClientIDPrefix: "shopchat",
			QoS:            1,
			KeepAlive:      Duration{30 * time.Second},
			ConnectTimeout: Duration{10 * time.Second},
			AutoReconnect:  true,
		},
		Chat: Chat{
			TypingWindow:   Duration{2 * time.Second},
			TypingThrottle: Duration{500 * time.Millisecond},
			StoreTimeout:   Duration{5 * time.Second},
			Outbox:         true,
		},
		Log: Log{Level: "info", Console: true},
	}
}

// Load reads config from the given path. Keys absent from the file keep
// their defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

// Validate checks values that would fail later at connect time.
func (c *Config) Validate() error {
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return fmt.Errorf("broker.qos must be 0, 1 or 2, got %d", c.Broker.QoS)
	}
	if !c.Broker.LocalOnly() {
		u, err := url.Parse(c.Broker.URL)
		if err != nil {
			return fmt.Errorf("broker.url: %w", err)
		}
		if u.Scheme == "" {
			return fmt.Errorf("broker.url %q has no scheme", c.Broker.URL)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Chat.TypingThrottle.Duration < 0 || c.Chat.TypingWindow.Duration < 0 {
		return fmt.Errorf("chat durations must not be negative")
	}
	return nil
}

// LocalOnly reports whether the broker is disabled ("", "none" or "local").
func (b Broker) LocalOnly() bool {
	switch b.URL {
	case "", "none", "local":
		return true
	}
	return false
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
