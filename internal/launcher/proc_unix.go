//go:build unix

package launcher

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setSysProcAttr sets platform-specific process attributes.
// On Unix, agents get their own process group so daemon shutdown does not
// take them down and escalation can target their whole subtree.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// isProcessAlive checks if a process is still running.
// On Unix, signal 0 probes for existence without touching the process.
func isProcessAlive(p *os.Process) bool {
	if p == nil || p.Pid <= 0 {
		return false
	}
	return p.Signal(unix.Signal(0)) == nil
}

// sendTermSignal asks the process to shut down gracefully.
func sendTermSignal(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

// sendKillSignal terminates the process without warning.
func sendKillSignal(p *os.Process) error {
	return p.Signal(unix.SIGKILL)
}

// killProcess force-kills the agent. Agents run as group leaders, so the
// group kill also reaps any children they spawned; the direct kill covers
// processes that were started without a group of their own.
func killProcess(p *os.Process) {
	if p == nil || p.Pid <= 0 {
		return
	}
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err == nil {
		return
	}
	_ = p.Signal(unix.SIGKILL)
}
