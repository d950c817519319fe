package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "WPPSYNC_HOME"

// BaseDir returns $WPPSYNC_HOME, or ~/.wppsync.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wppsync")
}

// ConfigPath returns the config file shared by every session.
func ConfigPath() string { return filepath.Join(BaseDir(), "config.toml") }

// Dir returns the directory holding everything of one session.
func Dir(name string) string { return filepath.Join(BaseDir(), "sessions", name) }

func under(name string, elem ...string) string {
	return filepath.Join(append([]string{Dir(name)}, elem...)...)
}

// SocketPath is where the daemon serves health checks.
func SocketPath(name string) string { return under(name, "daemon.sock") }

func LockPath(name string) string { return under(name, "LOCK") }

// SessionDBPath is the whatsmeow device store.
func SessionDBPath(name string) string { return under(name, "whatsmeow.db") }

// AppDBPath is the chat and message store.
func AppDBPath(name string) string { return under(name, "wppsync.db") }

func LogDir(name string) string { return under(name, "logs") }

func LogPath(name string) string { return under(name, "logs", "wppsyncd.log") }

// EnsureDir creates the session and log directories, private to the user.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
