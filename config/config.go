// Package config holds maildock's TOML configuration.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoggingConfig controls log output, format and level.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr" or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// ListenerConfig describes one protocol endpoint.
type ListenerConfig struct {
	Start   bool   `toml:"start"`
	Address string `toml:"address"` // "" or "any" binds all interfaces
	Port    int    `toml:"port"`
}

// ListenersConfig holds the per-protocol listener configurations.
type ListenersConfig struct {
	Hostname string         `toml:"hostname"` // advertised in protocol greetings
	SMTP     ListenerConfig `toml:"smtp"`
	POP3     ListenerConfig `toml:"pop3"`
}

// HTTPAPIConfig holds the admin HTTP API configuration.
type HTTPAPIConfig struct {
	Start  bool   `toml:"start"`
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Listeners ListenersConfig `toml:"listeners"`
	HTTPAPI   HTTPAPIConfig   `toml:"http_api"`
}

// NewDefault returns the application defaults applied before the TOML file
// and command-line flags are considered.
func NewDefault() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Listeners: ListenersConfig{
			SMTP: ListenerConfig{Start: true, Address: "", Port: 25},
			POP3: ListenerConfig{Start: true, Address: "", Port: 110},
		},
		HTTPAPI: HTTPAPIConfig{
			Start: false,
			Addr:  "127.0.0.1:8470",
		},
	}
}

// Load decodes the TOML file at path over cfg. Unknown keys are rejected so
// typos in the config file fail fast.
func Load(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file '%s': %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown configuration key '%s' in '%s'", undecoded[0], path)
	}
	return nil
}
