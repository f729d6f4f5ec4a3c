package client

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings stores user preferences persisted as YAML next to the binary.
type Settings struct {
	ServerAddr  string        `yaml:"server_addr"`
	Username    string        `yaml:"username,omitempty"`
	DownloadDir string        `yaml:"download_dir"`
	FilesAddr   string        `yaml:"files_addr"`
	KeepAlive   time.Duration `yaml:"keepalive"`
	LogLevel    string        `yaml:"log_level"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	cfg := DefaultConfig()
	return &Settings{
		ServerAddr:  cfg.ServerAddr,
		DownloadDir: "downloads",
		FilesAddr:   cfg.ReceiveAddr,
		KeepAlive:   cfg.KeepAlive,
		LogLevel:    "info",
	}
}

// SettingsPath is the default settings file location.
func SettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "udpchat.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "udpchat.yaml")
}

// LoadSettings loads settings from path or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // user-chosen settings file
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return DefaultSettings()
	}
	return s
}

// Save writes settings to path as YAML.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Config converts the settings into a client Config.
func (s *Settings) Config() Config {
	cfg := DefaultConfig()
	cfg.ServerAddr = s.ServerAddr
	cfg.ReceiveAddr = s.FilesAddr
	cfg.DownloadDir = s.DownloadDir
	if s.KeepAlive > 0 {
		cfg.KeepAlive = s.KeepAlive
	}
	return cfg
}
