package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/metahuman-os/cortex/internal/identity"
)

// stopWait is how long Stop gives the daemon to exit gracefully before
// escalating to SIGKILL.
const stopWait = 2 * time.Second

// PIDFile returns the daemon PID file path for a profile.
func PIDFile(paths identity.ProfilePaths) string {
	return filepath.Join(paths.DaemonDir(), "daemon.pid")
}

// LockFile returns the daemon singleton lock path for a profile.
func LockFile(paths identity.ProfilePaths) string {
	return filepath.Join(paths.DaemonDir(), "daemon.lock")
}

// LogFile returns the daemon log path for a profile.
func LogFile(paths identity.ProfilePaths) string {
	return filepath.Join(paths.DaemonDir(), "daemon.log")
}

// HeartbeatFile returns the daemon heartbeat path for a profile.
func HeartbeatFile(paths identity.ProfilePaths) string {
	return filepath.Join(paths.DaemonDir(), "heartbeat.json")
}

// shutdownSignals are the signals that stop the daemon.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// IsRunning checks if a daemon is running for the given profile. It checks
// the PID file and verifies the process is alive.
// Note: The file lock in Run() is the authoritative mechanism for preventing
// duplicate daemons. This function is for status checks and cleanup.
func IsRunning(paths identity.ProfilePaths) (bool, int, error) {
	pidFile := PIDFile(paths)
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		// Corrupted PID file - return error, not silent false
		return false, 0, fmt.Errorf("invalid PID in file %q: %w", pidStr, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}

	// On Unix, FindProcess always succeeds. Send signal 0 to check if alive.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		// Process not running, clean up stale PID file
		if err := os.Remove(pidFile); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (process %d not found)", pid)
		}
		return false, 0, nil
	}

	// Verify it's actually our daemon, not PID reuse.
	if !isCortexDaemon(pid) {
		if err := os.Remove(pidFile); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (PID %d is not a cortex daemon)", pid)
		}
		return false, 0, nil
	}

	return true, pid, nil
}

// isCortexDaemon checks if a PID is actually a cortex daemon run process.
// This prevents false positives from PID reuse.
func isCortexDaemon(pid int) bool {
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=")
	output, err := cmd.Output()
	if err != nil {
		return false
	}

	cmdline := strings.TrimSpace(string(output))
	return strings.Contains(cmdline, "cortex") && strings.Contains(cmdline, "daemon") && strings.Contains(cmdline, "run")
}

// Stop terminates the running daemon for the given profile.
// Note: The file lock in Run() prevents duplicate daemons per profile, so
// killing the process from the PID file is enough.
func Stop(paths identity.ProfilePaths) error {
	running, pid, err := IsRunning(paths)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	// SIGTERM first so the daemon can stop its agents cleanly.
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	time.Sleep(stopWait)

	if err := process.Signal(syscall.Signal(0)); err == nil {
		// Still running, force kill
		_ = process.Signal(syscall.SIGKILL)
	}

	_ = os.Remove(PIDFile(paths))
	return nil
}
