package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"txfs/internal/artifacts"
	"txfs/internal/backup"
	"txfs/internal/common"
	"txfs/internal/history"
)

// getConfigDir returns the config directory path.
// Uses TXFS_CONFIG_DIR env var if set, otherwise defaults to ~/.txfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("TXFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".txfs")
}

// daemonName returns the fixed daemon name "daemon".
// Test isolation is achieved via TXFS_CONFIG_DIR instead of multiple daemon names.
func daemonName() string {
	return "daemon"
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SocketPath returns the Unix socket path
func SocketPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".sock")
}

// PidPath returns the PID file path
func PidPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".pid")
}

// LogPath returns the log file path.
// Uses TXFS_DAEMON_LOG env var if set, otherwise defaults to config_dir/daemon_name.log.
func LogPath() string {
	if envPath := os.Getenv("TXFS_DAEMON_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), daemonName()+".log")
}

// LockPath returns the lock file path
func LockPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".lock")
}

// GlobalSettingsPath returns the global settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// GlobalSettings represents global daemon settings
type GlobalSettings struct {
	LogLevel        string `yaml:"log_level"`        // Log level: trace, debug, info, warn, none (default: none)
	HistoryCapacity int    `yaml:"history_capacity"` // Entries per undo/redo stack (default: 50)
	BackupDir       string `yaml:"backup_dir"`       // Backup root, empty = TXFS_BACKUP_DIR or XDG data dir
	BackupMaxAge    string `yaml:"backup_max_age"`   // Sweep threshold (default: 168h)
	SweepInterval   string `yaml:"sweep_interval"`   // Time between sweeps (default: 1h)
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *GlobalSettings) ApplyDefaults() {
	if s.HistoryCapacity <= 0 {
		s.HistoryCapacity = history.DefaultCapacity
	}
	if s.BackupMaxAge == "" {
		s.BackupMaxAge = "168h"
	}
	if s.SweepInterval == "" {
		s.SweepInterval = "1h"
	}
}

// LoggingEnabled returns whether logging is enabled (any level other than "none" or empty).
func (s *GlobalSettings) LoggingEnabled() bool {
	level := strings.ToLower(s.LogLevel)
	return level != "" && level != "none" && level != "off"
}

// BackupRoot returns the configured backup root or the default one.
func (s *GlobalSettings) BackupRoot() string {
	if s.BackupDir != "" {
		return s.BackupDir
	}
	return backup.DefaultRoot()
}

// MaxAge parses BackupMaxAge.
func (s *GlobalSettings) MaxAge() (time.Duration, error) {
	return parseDuration("backup_max_age", s.BackupMaxAge)
}

// Interval parses SweepInterval.
func (s *GlobalSettings) Interval() (time.Duration, error) {
	return parseDuration("sweep_interval", s.SweepInterval)
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, common.NewPathError("settings", key, common.ErrInvalidInput, err)
	}
	if d <= 0 {
		return 0, common.Errorf("settings", key, common.ErrInvalidInput, "duration must be positive, got %s", value)
	}
	return d, nil
}

// loadDefaultGlobalSettings parses default settings from embedded artifact.
func loadDefaultGlobalSettings() GlobalSettings {
	var settings GlobalSettings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// LoadGlobalSettings loads the global settings from ~/.txfs/settings.yaml.
// Always reads from file to get latest config. Falls back to embedded defaults if file doesn't exist.
func LoadGlobalSettings() (*GlobalSettings, error) {
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			settings := loadDefaultGlobalSettings()
			settings.ApplyDefaults()
			return &settings, nil
		}
		return nil, err
	}

	var settings GlobalSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	settings.ApplyDefaults()
	return &settings, nil
}

// SaveGlobalSettings saves the global settings to ~/.txfs/settings.yaml
func SaveGlobalSettings(settings *GlobalSettings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	// Add header comment (same as template header)
	header := []byte("# TxFS daemon settings\n# See: txfs daemon --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}
