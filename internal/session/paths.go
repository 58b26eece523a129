package session

import (
	"os"
	"path/filepath"
)

// baseDirOverride is set by tests and by CHATSYNC_HOME.
var baseDirOverride string

// BaseDir returns ~/.chatsync, or $CHATSYNC_HOME when set.
func BaseDir() string {
	if baseDirOverride != "" {
		return baseDirOverride
	}
	if v := os.Getenv("CHATSYNC_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the UDS socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// ProfilePath returns the profile.toml path.
func ProfilePath(name string) string {
	return filepath.Join(Dir(name), "profile.toml")
}

// EnvPath returns the optional per-profile .env file.
func EnvPath(name string) string {
	return filepath.Join(Dir(name), ".env")
}

// CachePath returns the SQLite cache path.
func CachePath(name string) string {
	return filepath.Join(Dir(name), "chatsync.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chatsyncd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
