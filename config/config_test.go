package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Listeners.SMTP.Start)
	assert.Equal(t, 25, cfg.Listeners.SMTP.Port)
	assert.True(t, cfg.Listeners.POP3.Start)
	assert.Equal(t, 110, cfg.Listeners.POP3.Port)
	assert.False(t, cfg.HTTPAPI.Start)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[logging]
level = "debug"
format = "json"

[listeners]
hostname = "mx1.example.com"

[listeners.smtp]
start = true
address = "127.0.0.1"
port = 2525

[listeners.pop3]
start = false

[http_api]
start = true
addr = "127.0.0.1:9100"
api_key = "secret"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := NewDefault()
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output, "unset keys keep defaults")
	assert.Equal(t, "mx1.example.com", cfg.Listeners.Hostname)
	assert.Equal(t, "127.0.0.1", cfg.Listeners.SMTP.Address)
	assert.Equal(t, 2525, cfg.Listeners.SMTP.Port)
	assert.False(t, cfg.Listeners.POP3.Start)
	assert.Equal(t, 110, cfg.Listeners.POP3.Port, "unset keys keep defaults")
	assert.True(t, cfg.HTTPAPI.Start)
	assert.Equal(t, "secret", cfg.HTTPAPI.APIKey)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[listeners.smtp]\nprot = 25\n"), 0644))

	cfg := NewDefault()
	err := Load(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration key")
}

func TestLoadMissingFile(t *testing.T) {
	cfg := NewDefault()
	err := Load(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
	require.Error(t, err)
}
