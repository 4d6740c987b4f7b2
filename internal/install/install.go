// Package install locates the cortex installation root and lays out its
// directory tree.
package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metahuman-os/cortex/internal/config"
)

// ErrNotFound indicates no installation was found.
var ErrNotFound = errors.New("not inside a cortex installation")

// Marker is the config file that identifies an installation root. A
// directory is only an installation if this file is present; state/ or
// users/ alone is not enough, since any project could have those folders.
const Marker = "cortex.toml"

// Find locates the installation root. CORTEX_ROOT takes precedence when
// set, since spawned agents receive it and must not depend on their working
// directory. Otherwise Find walks up from startDir looking for the marker.
// Does not resolve symlinks to stay consistent with os.Getwd().
func Find(startDir string) (string, error) {
	if root := os.Getenv(config.EnvRoot); root != "" {
		if _, err := os.Stat(filepath.Join(root, Marker)); err != nil {
			return "", fmt.Errorf("%s is set to %s but %s is missing there", config.EnvRoot, root, Marker)
		}
		return root, nil
	}

	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	current := absDir
	for {
		if _, err := os.Stat(filepath.Join(current, Marker)); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", ErrNotFound
		}
		current = parent
	}
}

// FindFromCwd locates the installation root from the current working directory.
func FindFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return Find(cwd)
}

// IsInstallRoot checks if the given directory is an installation root.
func IsInstallRoot(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, Marker))
	return err == nil
}

// ConfigFile returns the path of the installation config, which doubles as
// the root marker.
func ConfigFile(root string) string {
	return filepath.Join(root, Marker)
}

// StateDir returns the installation-global state directory.
func StateDir(root string) string {
	return filepath.Join(root, "state")
}

// ModeFile returns the path of the mode descriptor. The descriptor is
// installation-global: headless mode applies to the whole machine, not to
// one user.
func ModeFile(root string) string {
	return filepath.Join(root, "state", "mode.json")
}

// UsersDir returns the directory holding per-user profiles.
func UsersDir(root string) string {
	return filepath.Join(root, "users")
}

// UserDir returns the profile directory for one user.
func UserDir(root, username string) string {
	return filepath.Join(root, "users", username)
}

// EnsureLayout creates the installation-level directories. Per-user trees
// are created separately when users are added.
func EnsureLayout(root string) error {
	for _, dir := range []string{StateDir(root), UsersDir(root)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
