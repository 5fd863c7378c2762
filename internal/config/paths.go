package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

const appName = "dirsync"

const configFileName = "config.toml"

// DefaultConfigDir returns the platform config directory. On Linux it
// respects XDG_CONFIG_HOME.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform data directory (history database,
// lock file, log file). On Linux it respects XDG_DATA_HOME.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, ".local", "share")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(envVar, home string, fallback ...string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(append(append([]string{home}, fallback...), appName)...)
}

// DefaultConfigPath returns the config file path used when neither
// DIRSYNC_CONFIG nor --config is given.
func DefaultConfigPath() string {
	return joinIfSet(DefaultConfigDir(), configFileName)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
