package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udpchat.yaml")
	s := DefaultSettings()
	s.ServerAddr = "chat.example.com:12345"
	s.Username = "alice"
	s.KeepAlive = 15 * time.Second
	require.NoError(t, s.Save(path))

	loaded := LoadSettings(path)
	assert.Equal(t, s, loaded)

	cfg := loaded.Config()
	assert.Equal(t, "chat.example.com:12345", cfg.ServerAddr)
	assert.Equal(t, 15*time.Second, cfg.KeepAlive)
}

func TestSettingsDefaults(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, DefaultSettings(), LoadSettings(filepath.Join(dir, "missing.yaml")))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("keepalive: [\n"), 0o600))
	assert.Equal(t, DefaultSettings(), LoadSettings(bad))
}
