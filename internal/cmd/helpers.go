package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/metahuman-os/cortex/internal/config"
	"github.com/metahuman-os/cortex/internal/identity"
	"github.com/metahuman-os/cortex/internal/install"
)

// target is a fully resolved command scope: the enclosing installation, its
// config, and the user profile the command operates on.
type target struct {
	root     string
	cfg      *config.Config
	username string
	paths    identity.ProfilePaths
}

// findRoot locates the enclosing installation.
func findRoot() (string, error) {
	root, err := install.FindFromCwd()
	if err != nil {
		return "", fmt.Errorf("not in a cortex installation (run 'cortex init' to create one): %w", err)
	}
	return root, nil
}

// resolveUsername picks the profile to operate on: the --user flag wins,
// then CORTEX_USER, then default_user from the config.
func resolveUsername(cfg *config.Config) (string, error) {
	if userFlag != "" {
		return userFlag, nil
	}
	if env := os.Getenv(config.EnvUser); env != "" {
		return env, nil
	}
	if cfg != nil && cfg.DefaultUser != "" {
		return cfg.DefaultUser, nil
	}
	return "", fmt.Errorf("no user selected (pass --user, set %s, or set default_user in %s)",
		config.EnvUser, install.Marker)
}

// resolveTarget resolves the installation, config, and target user in one
// step, verifying the user's profile exists.
func resolveTarget() (*target, error) {
	root, err := findRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(install.ConfigFile(root))
	if err != nil {
		return nil, err
	}
	username, err := resolveUsername(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := identity.Load(root, username); err != nil {
		return nil, err
	}
	return &target{
		root:     root,
		cfg:      cfg,
		username: username,
		paths:    identity.ProfilePaths{Root: root, Username: username},
	}, nil
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
