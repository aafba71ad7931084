// Package paths resolves the configuration and data directories and the
// files boardstore keeps inside the data directory.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDirName is the data directory created under the working
// directory when nothing else names one.
const DefaultDataDirName = ".boardstore-data"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "BOARDSTORE_CONFIG_DIR"
	EnvDataDir   = "BOARDSTORE_DATA_DIR"
)

const appName = "boardstore"

// Files inside the data directory.
const (
	DocumentFile      = "boardstore.json"
	IndexedFile       = "boardstore.db"
	BackupDir         = "backups"
	FlagsFile         = "flags.json"
	MirrorStateFile   = "mirror_state.json"
	MigrationLockFile = "migration.lock"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/boardstore (fallback ~/.config/boardstore)
// macOS:   ~/Library/Application Support/boardstore
// Windows: %APPDATA%/boardstore
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	default:
		// macOS and Windows use os.UserConfigDir which returns
		// ~/Library/Application Support on macOS and %APPDATA% on Windows.
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
}

// ResolveConfigDir returns the configuration directory following the precedence
// chain: flag > BOARDSTORE_CONFIG_DIR env > DefaultConfigDir().
//
// If flag is non-empty it wins. Otherwise the BOARDSTORE_CONFIG_DIR environment
// variable is checked. If neither is set, the platform default is returned.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > configYAMLValue > BOARDSTORE_DATA_DIR env > ./.boardstore-data.
//
// With no override the data directory sits next to the working directory,
// so a project carries its own boards.
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configYAMLValue != "" {
		return filepath.Abs(configYAMLValue)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// Layout names the files of one data directory.
type Layout struct {
	DataDir string
}

// Document is the path of the document store file.
func (l Layout) Document() string { return l.file(DocumentFile) }

// Indexed is the path of the SQLite database.
func (l Layout) Indexed() string { return l.file(IndexedFile) }

// Backups is the backup directory.
func (l Layout) Backups() string { return l.file(BackupDir) }

// Flags is the mode flag file.
func (l Layout) Flags() string { return l.file(FlagsFile) }

// MirrorState is the dual-write state file.
func (l Layout) MirrorState() string { return l.file(MirrorStateFile) }

// MigrationLock is the lock file guarding migration runs.
func (l Layout) MigrationLock() string { return l.file(MigrationLockFile) }

func (l Layout) file(name string) string { return filepath.Join(l.DataDir, name) }

// Ensure creates the data directory and its backup directory.
func (l Layout) Ensure() error {
	if l.DataDir == "" {
		return errors.New("data directory not set")
	}
	for _, dir := range []string{l.DataDir, l.Backups()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
