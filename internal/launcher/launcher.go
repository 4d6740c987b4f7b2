// Package launcher spawns, monitors, and stops agent processes for one
// user's profile. Processes are detached into their own process group and
// tracked through the persisted registry, so a later daemon run (or the
// CLI) can manage agents it did not spawn itself.
package launcher

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/metahuman-os/cortex/internal/agent"
	"github.com/metahuman-os/cortex/internal/audit"
	"github.com/metahuman-os/cortex/internal/config"
	"github.com/metahuman-os/cortex/internal/registry"
)

// ErrAlreadyRunning means a live process is already registered under the
// agent's name.
var ErrAlreadyRunning = errors.New("agent already running")

// DefaultGrace is the SIGTERM-to-SIGKILL window when none is configured.
const DefaultGrace = 5 * time.Second

// stopPollInterval is how often Stop re-checks liveness while waiting out
// the grace window.
const stopPollInterval = 50 * time.Millisecond

// Outcome classifies how an agent stopped.
type Outcome string

const (
	// OutcomeStopped means the process exited within the grace window,
	// or was already gone.
	OutcomeStopped Outcome = "stopped"

	// OutcomeFailed means the process ignored SIGTERM and had to be
	// killed, or survived even that.
	OutcomeFailed Outcome = "failed"
)

// Failure records one agent that could not be started or stopped.
type Failure struct {
	Name string
	Err  error
}

// StartReport summarizes a batch start. Per-agent failures are collected
// here instead of aborting the rest of the batch.
type StartReport struct {
	Started        []string
	AlreadyRunning []string
	Failed         []Failure
	Total          int
}

// StopReport summarizes a batch stop.
type StopReport struct {
	Stopped  int
	Failed   int
	Total    int
	Failures []Failure
}

// CommandFunc builds the process for one agent spawn. Tests substitute
// stub processes through it.
type CommandFunc func(def agent.Definition) *exec.Cmd

// Launcher manages agent processes for one user.
type Launcher struct {
	Root     string
	Username string
	Registry *registry.Store
	Audit    *audit.Logger
	Logger   *log.Logger

	// Grace is the SIGTERM-to-SIGKILL window when stopping. Zero means
	// DefaultGrace.
	Grace time.Duration

	// Actor names this launcher in audit entries. Empty means
	// "daemon:<username>".
	Actor string

	// CommandFunc overrides process construction.
	CommandFunc CommandFunc

	// VerifyProcess overrides the PID-reuse check applied before
	// signaling a process this launcher did not spawn.
	VerifyProcess func(pid int, name string) bool

	mu    sync.Mutex
	owned map[string]int // agent name -> pid spawned by this launcher
}

// New returns a launcher for the given user profile.
func New(root, username string, store *registry.Store) *Launcher {
	return &Launcher{Root: root, Username: username, Registry: store}
}

func (l *Launcher) logf(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
	}
}

func (l *Launcher) actor() string {
	if l.Actor != "" {
		return l.Actor
	}
	return "daemon:" + l.Username
}

func (l *Launcher) grace() time.Duration {
	if l.Grace > 0 {
		return l.Grace
	}
	return DefaultGrace
}

func (l *Launcher) markOwned(name string, pid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owned == nil {
		l.owned = make(map[string]int)
	}
	l.owned[name] = pid
}

func (l *Launcher) clearOwned(name string, pid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owned[name] == pid {
		delete(l.owned, name)
	}
}

func (l *Launcher) ownsPID(name string, pid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owned[name] == pid
}

func (l *Launcher) verifyAgent(pid int, name string) bool {
	if l.VerifyProcess != nil {
		return l.VerifyProcess(pid, name)
	}
	return isAgentProcess(pid, name)
}

// isAgentProcess reports whether pid looks like an agent run process for
// the named agent. This guards orphan signaling against PID reuse: a
// record from a crashed daemon may point at a recycled PID belonging to
// someone else entirely.
func isAgentProcess(pid int, name string) bool {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return false
	}
	cmdline := strings.TrimSpace(string(out))
	return strings.Contains(cmdline, "agent") && strings.Contains(cmdline, "run") && strings.Contains(cmdline, name)
}

// command builds the default spawn: this executable re-entered as
// "agent run <name>" with the spawn-contract environment.
func (l *Launcher) command(def agent.Definition) (*exec.Cmd, error) {
	if l.CommandFunc != nil {
		return l.CommandFunc(def), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("finding executable: %w", err)
	}
	cmd := exec.Command(exe, "agent", "run", def.Name)
	cmd.Dir = l.Root
	cmd.Env = config.EnvForExecCommand(config.AgentEnv(config.AgentEnvConfig{
		Root:      l.Root,
		Username:  l.Username,
		AgentName: def.Name,
		Oneshot:   def.OneShot,
	}))
	return cmd, nil
}

// Start spawns the agent as an independent process and registers it. The
// record is written as soon as the spawn succeeds; an exit watcher removes
// it again when the process ends, whatever the reason.
func (l *Launcher) Start(def agent.Definition) error {
	if rec, err := l.Registry.Get(def.Name); err == nil && rec.Alive() {
		proc, _ := os.FindProcess(rec.PID)
		if isProcessAlive(proc) && (l.ownsPID(def.Name, rec.PID) || l.verifyAgent(rec.PID, def.Name)) {
			return fmt.Errorf("%s (PID %d): %w", def.Name, rec.PID, ErrAlreadyRunning)
		}
		// Dead or recycled PID: the record is crash debris and the
		// new registration below replaces it.
	}

	cmd, err := l.command(def)
	if err != nil {
		return err
	}

	// Detach from the daemon's terminal and process group.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", def.Name, err)
	}
	pid := cmd.Process.Pid

	if _, err := l.Registry.Register(def.Name, pid); err != nil {
		// Unregistered processes are invisible to stop-all; better to
		// kill the spawn than leak it.
		_ = sendKillSignal(cmd.Process)
		_ = cmd.Wait()
		return fmt.Errorf("registering %s: %w", def.Name, err)
	}
	if err := l.Registry.SetStatus(def.Name, registry.StatusRunning); err != nil {
		l.logf("Warning: failed to mark %s running: %v", def.Name, err)
	}
	l.markOwned(def.Name, pid)

	l.logf("Started %s (PID %d)", def.Name, pid)
	_ = l.Audit.Info(audit.CategoryAgent, "agent.start", l.actor(), map[string]any{
		"agent": def.Name,
		"pid":   pid,
	})

	go l.watch(def.Name, cmd)
	return nil
}

// watch reaps the process and retires its registry record exactly once.
func (l *Launcher) watch(name string, cmd *exec.Cmd) {
	err := cmd.Wait()
	pid := cmd.Process.Pid

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	l.clearOwned(name, pid)
	l.unregisterIfPID(name, pid)

	l.logf("%s exited (PID %d, code %d)", name, pid, code)
	level := audit.LevelInfo
	if code != 0 {
		level = audit.LevelWarn
	}
	_ = l.Audit.Emit(level, audit.CategoryAgent, "agent.exit", l.actor(), map[string]any{
		"agent": name,
		"pid":   pid,
		"code":  code,
	})
}

// unregisterIfPID removes the agent's record only while it still refers to
// the given pid. A record rewritten by a newer spawn is left alone.
func (l *Launcher) unregisterIfPID(name string, pid int) {
	rec, err := l.Registry.Get(name)
	if err != nil {
		return
	}
	if rec.PID != pid {
		return
	}
	if err := l.Registry.Unregister(name); err != nil {
		l.logf("Warning: failed to unregister %s: %v", name, err)
	}
}

// Stop requests graceful termination and escalates after the grace window.
// Records without a live process behind them are cleaned up and count as
// stopped.
func (l *Launcher) Stop(name string) (Outcome, error) {
	rec, err := l.Registry.Get(name)
	if err != nil {
		if errors.Is(err, registry.ErrNotRegistered) {
			return OutcomeStopped, nil
		}
		return OutcomeFailed, fmt.Errorf("reading registry: %w", err)
	}

	proc, _ := os.FindProcess(rec.PID)
	alive := isProcessAlive(proc)
	if alive && !l.ownsPID(name, rec.PID) && !l.verifyAgent(rec.PID, name) {
		// The PID now belongs to an unrelated process. Never signal it.
		l.logf("PID %d for %s was recycled, dropping stale record", rec.PID, name)
		alive = false
	}
	if !alive {
		l.unregisterIfPID(name, rec.PID)
		return OutcomeStopped, nil
	}

	if err := l.Registry.SetStatus(name, registry.StatusStopping); err != nil {
		l.logf("Warning: failed to mark %s stopping: %v", name, err)
	}
	if err := sendTermSignal(proc); err != nil {
		// Exited between the liveness check and the signal.
		l.unregisterIfPID(name, rec.PID)
		return OutcomeStopped, nil
	}

	deadline := time.Now().Add(l.grace())
	for time.Now().Before(deadline) {
		if !isProcessAlive(proc) {
			l.unregisterIfPID(name, rec.PID)
			l.logf("Stopped %s (PID %d)", name, rec.PID)
			return OutcomeStopped, nil
		}
		time.Sleep(stopPollInterval)
	}

	l.logf("%s (PID %d) ignored SIGTERM for %v, killing", name, rec.PID, l.grace())
	killProcess(proc)

	for i := 0; i < 10; i++ {
		if !isProcessAlive(proc) {
			l.unregisterIfPID(name, rec.PID)
			return OutcomeFailed, nil
		}
		time.Sleep(stopPollInterval)
	}

	// Survived SIGKILL: keep the record so the failure stays visible.
	// The exit watcher retires it if the process ever goes down.
	if err := l.Registry.SetStatus(name, registry.StatusFailed); err != nil {
		l.logf("Warning: failed to mark %s failed: %v", name, err)
	}
	return OutcomeFailed, fmt.Errorf("agent %s (PID %d) survived SIGKILL", name, rec.PID)
}

// StartSet starts every definition in the set. Per-agent failures are
// collected, never abort the rest of the batch.
func (l *Launcher) StartSet(defs []agent.Definition) StartReport {
	rep := StartReport{Total: len(defs)}
	for _, def := range defs {
		err := l.Start(def)
		switch {
		case err == nil:
			rep.Started = append(rep.Started, def.Name)
		case errors.Is(err, ErrAlreadyRunning):
			rep.AlreadyRunning = append(rep.AlreadyRunning, def.Name)
		default:
			l.logf("Warning: failed to start %s: %v", def.Name, err)
			rep.Failed = append(rep.Failed, Failure{Name: def.Name, Err: err})
		}
	}
	return rep
}

// StopAll stops every registry-tracked agent.
func (l *Launcher) StopAll() (StopReport, error) {
	records, err := l.Registry.ListRunning()
	if err != nil {
		return StopReport{}, fmt.Errorf("listing running agents: %w", err)
	}

	rep := StopReport{Total: len(records)}
	for _, rec := range records {
		outcome, err := l.Stop(rec.Name)
		if outcome == OutcomeStopped {
			rep.Stopped++
			continue
		}
		rep.Failed++
		if err != nil {
			l.logf("Warning: failed to stop %s: %v", rec.Name, err)
			rep.Failures = append(rep.Failures, Failure{Name: rec.Name, Err: err})
		}
	}
	return rep, nil
}

// Prune removes registry records whose process no longer exists. Crash
// debris from a previous daemon run must not satisfy the reconciler.
func (l *Launcher) Prune() ([]string, error) {
	records, err := l.Registry.ListRunning()
	if err != nil {
		return nil, fmt.Errorf("listing running agents: %w", err)
	}

	var removed []string
	for _, rec := range records {
		if l.ownsPID(rec.Name, rec.PID) {
			continue // live handle; the exit watcher owns this record
		}
		proc, _ := os.FindProcess(rec.PID)
		if isProcessAlive(proc) && l.verifyAgent(rec.PID, rec.Name) {
			continue // adopted orphan, still doing its job
		}

		l.unregisterIfPID(rec.Name, rec.PID)
		removed = append(removed, rec.Name)
		l.logf("Pruned %s (PID %d no longer an agent process)", rec.Name, rec.PID)
		_ = l.Audit.Warn(audit.CategoryAgent, "agent.exit", l.actor(), map[string]any{
			"agent":  rec.Name,
			"pid":    rec.PID,
			"reason": "vanished",
		})
	}
	return removed, nil
}
