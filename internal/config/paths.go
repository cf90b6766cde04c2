package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "photobridge"

// Config file name.
const configFileName = "photobridge.conf"

// systemConfigPath is the machine-wide config location, preferred when it
// exists. The pipeline usually runs as a system service on the NAS host.
const systemConfigPath = "/etc/photobridge/photobridge.conf"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/photobridge).
// On macOS, uses ~/Library/Application Support/photobridge per Apple
// guidelines. Other platforms fall back to ~/.config/photobridge.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application
// data (browser session files, OAuth tokens).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/photobridge).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file: the
// system-wide /etc location when present, otherwise the per-user XDG path.
// This is the fallback when neither CONFIG_PATH nor --config is specified.
func DefaultConfigPath() string {
	if _, err := os.Stat(systemConfigPath); err == nil {
		return systemConfigPath
	}

	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// SessionFilePath resolves the browser session file: an absolute configured
// path is used as-is, a relative one lands in the data directory, and an
// empty one gets the default name in the data directory.
func (c *Config) SessionFilePath() string {
	p := c.Uploader.SessionFile
	if p == "" {
		p = DefaultSessionFile
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(DefaultDataDir(), p)
}
