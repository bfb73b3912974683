package appdir

import (
	"os"
	"path/filepath"
)

// Base returns ~/.chatx.
func Base() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatx")
}

// DBPath returns the local cache database path.
func DBPath() string {
	return filepath.Join(Base(), "chatx.db")
}

// LockPath returns the daemon lock file path.
func LockPath() string {
	return filepath.Join(Base(), "LOCK")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(Base(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "chatxd.log")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(Base(), "config.toml")
}

// Ensure creates the data directory tree with proper permissions.
func Ensure() error {
	dirs := []string{
		Base(),
		LogDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
