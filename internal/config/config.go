package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so it can be written as "10s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents chatline.toml.
type Config struct {
	ServerURL string `toml:"server_url"`
	APIURL    string `toml:"api_url"`
	LogPath   string `toml:"log_path"`

	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	SendTimeout       Duration `toml:"send_timeout"`
	TypingDebounce    Duration `toml:"typing_debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ReconnectAttempts: 5,
		ReconnectDelay:    Duration{time.Second},
		SendTimeout:       Duration{10 * time.Second},
		TypingDebounce:    Duration{time.Second},
	}
}

// Load reads config from the given path and fills unset timing fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
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

func (c *Config) applyDefaults() {
	def := Default()
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = def.ReconnectAttempts
	}
	if c.ReconnectDelay.Duration <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.SendTimeout.Duration <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.TypingDebounce.Duration <= 0 {
		c.TypingDebounce = def.TypingDebounce
	}
}
