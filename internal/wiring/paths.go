// Package wiring resolves warden's on-disk locations and assembles the
// per-project components shared by the warden CLI and the hook binary.
package wiring

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds every resolved location warden reads or writes.
type Paths struct {
	Home     string // WARDEN_HOME or ~/.warden
	DBPath   string // WARDEN_DB_PATH or $Home/state.db
	StateDir string // WARDEN_STATE_DIR or $TMPDIR/warden-<uid>
	LogDir   string // WARDEN_LOG_DIR or $Home/logs
}

// Environment variables that override Paths.
const (
	EnvHome     = "WARDEN_HOME"
	EnvDBPath   = "WARDEN_DB_PATH"
	EnvStateDir = "WARDEN_STATE_DIR"
	EnvLogDir   = "WARDEN_LOG_DIR"
)

// ResolvePaths reads the WARDEN_* overrides and fills in defaults.
func ResolvePaths() (Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		Home:     home,
		DBPath:   resolvePathWithEnv(EnvDBPath, filepath.Join(home, "state.db")),
		StateDir: resolvePathWithEnv(EnvStateDir, defaultStateDir()),
		LogDir:   resolvePathWithEnv(EnvLogDir, filepath.Join(home, "logs")),
	}, nil
}

func resolveHome() (string, error) {
	if v := os.Getenv(EnvHome); v != "" {
		return v, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(userHome, ".warden"), nil
}

func resolvePathWithEnv(envVar, defaultPath string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultPath
}

// defaultStateDir is per-user so concurrent users of one machine never share
// ephemeral state.
func defaultStateDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("warden-%d", os.Getuid()))
}
