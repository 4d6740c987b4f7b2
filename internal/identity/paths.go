package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metahuman-os/cortex/internal/install"
)

// ProfilePaths lays out one user's profile tree. All user-scoped state
// lives under this tree; nothing about a user is stored globally.
type ProfilePaths struct {
	Root     string
	Username string
}

// Dir returns the profile root, users/<username>.
func (p ProfilePaths) Dir() string {
	return install.UserDir(p.Root, p.Username)
}

// UserFile returns the identity record path.
func (p ProfilePaths) UserFile() string {
	return filepath.Join(p.Dir(), "user.json")
}

// MemoryDir returns the root of the user's memory store.
func (p ProfilePaths) MemoryDir() string {
	return filepath.Join(p.Dir(), "memory")
}

// EpisodicDir holds raw experience records awaiting curation.
func (p ProfilePaths) EpisodicDir() string {
	return filepath.Join(p.MemoryDir(), "episodic")
}

// ProceduralDir holds distilled how-to knowledge.
func (p ProfilePaths) ProceduralDir() string {
	return filepath.Join(p.MemoryDir(), "procedural")
}

// CuratedDir holds curator output.
func (p ProfilePaths) CuratedDir() string {
	return filepath.Join(p.MemoryDir(), "curated")
}

// StateDir returns the user's runtime state directory.
func (p ProfilePaths) StateDir() string {
	return filepath.Join(p.Dir(), "state")
}

// LocksDir holds agent lock records and their guard files.
func (p ProfilePaths) LocksDir() string {
	return filepath.Join(p.StateDir(), "locks")
}

// AgentsDir holds live-agent registry records.
func (p ProfilePaths) AgentsDir() string {
	return filepath.Join(p.StateDir(), "agents")
}

// DaemonDir holds the orchestrator's pid, lock, log, and heartbeat files.
func (p ProfilePaths) DaemonDir() string {
	return filepath.Join(p.StateDir(), "daemon")
}

// LogsDir returns the user's log directory.
func (p ProfilePaths) LogsDir() string {
	return filepath.Join(p.Dir(), "logs")
}

// AuditLog returns the append-only audit trail path.
func (p ProfilePaths) AuditLog() string {
	return filepath.Join(p.LogsDir(), "audit.log")
}

// EnsureProfileTree creates the full directory layout for a user profile.
// Safe to call repeatedly.
func EnsureProfileTree(root, username string) error {
	paths := ProfilePaths{Root: root, Username: username}
	dirs := []string{
		paths.Dir(),
		paths.EpisodicDir(),
		paths.ProceduralDir(),
		paths.CuratedDir(),
		paths.LocksDir(),
		paths.AgentsDir(),
		paths.DaemonDir(),
		paths.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
