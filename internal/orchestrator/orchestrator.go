// Package orchestrator supervises one user's background agents. A daemon
// process per profile watches the installation's mode descriptor and drives
// the running agent set toward what the mode demands: the configured
// default set during normal operation, nothing while the installation is
// headless.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/metahuman-os/cortex/internal/agent"
	"github.com/metahuman-os/cortex/internal/audit"
	"github.com/metahuman-os/cortex/internal/config"
	"github.com/metahuman-os/cortex/internal/identity"
	"github.com/metahuman-os/cortex/internal/install"
	"github.com/metahuman-os/cortex/internal/launcher"
	"github.com/metahuman-os/cortex/internal/mode"
	"github.com/metahuman-os/cortex/internal/registry"
	"github.com/metahuman-os/cortex/internal/util"
)

// State is the orchestrator's position in the mode state machine.
type State string

const (
	StateNormal                  State = "normal"
	StateTransitioningToHeadless State = "transitioning_to_headless"
	StateHeadless                State = "headless"
	StateTransitioningToNormal   State = "transitioning_to_normal"
)

// Orchestrator drives one user's agent population from the mode descriptor.
type Orchestrator struct {
	Root     string
	Username string
	Settings *config.Config
	Launcher *launcher.Launcher
	Audit    *audit.Logger
	Logger   *log.Logger

	state   State
	applied *bool // headless value last acted on; nil until the first evaluation
	cycle   uint64
}

// New builds an orchestrator for the user's profile: daemon log file, audit
// trail, registry-backed launcher. It fails fast on an unknown user or an
// invalid default agent list, so a misconfigured daemon never half-starts.
func New(root, username string, settings *config.Config) (*Orchestrator, error) {
	scope, err := identity.NewScope(root, username)
	if err != nil {
		return nil, fmt.Errorf("resolving user %q: %w", username, err)
	}
	paths := scope.Paths()

	if settings == nil {
		settings = config.Default()
	}
	if _, err := agent.DefaultSet(settings); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(paths.DaemonDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating daemon directory: %w", err)
	}
	logFile, err := os.OpenFile(LogFile(paths), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := log.New(logFile, "", log.LstdFlags)

	auditLog := audit.NewLogger(paths.AuditLog())
	l := launcher.New(root, username, registry.NewStore(paths.AgentsDir()))
	l.Audit = auditLog
	l.Logger = logger
	l.Grace = settings.Agents.GracePeriod.Duration

	return &Orchestrator{
		Root:     root,
		Username: username,
		Settings: settings,
		Launcher: l,
		Audit:    auditLog,
		Logger:   logger,
		state:    StateNormal,
	}, nil
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

func (o *Orchestrator) actor() string {
	return "daemon:" + o.Username
}

func (o *Orchestrator) paths() identity.ProfilePaths {
	return identity.ProfilePaths{Root: o.Root, Username: o.Username}
}

func (o *Orchestrator) modePath() string {
	return install.ModeFile(o.Root)
}

// State reports the orchestrator's current position. The zero value is
// normal operation.
func (o *Orchestrator) State() State {
	if o.state == "" {
		return StateNormal
	}
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.logf("State: %s", s)
	o.writeHeartbeat()
}

func (o *Orchestrator) heartbeatInterval() time.Duration {
	if o.Settings != nil && o.Settings.Daemon.HeartbeatInterval.Duration > 0 {
		return o.Settings.Daemon.HeartbeatInterval.Duration
	}
	return time.Minute
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.Settings != nil && o.Settings.Daemon.PollInterval.Duration > 0 {
		return o.Settings.Daemon.PollInterval.Duration
	}
	return 30 * time.Second
}

func (o *Orchestrator) settleDelay() time.Duration {
	if o.Settings != nil && o.Settings.Agents.SettleDelay.Duration > 0 {
		return o.Settings.Agents.SettleDelay.Duration
	}
	return 2 * time.Second
}

func (o *Orchestrator) retryConfig() util.RetryConfig {
	cfg := util.DefaultRetryConfig()
	if o.Settings == nil {
		return cfg
	}
	if o.Settings.Daemon.RetryMaxAttempts > 0 {
		cfg.MaxAttempts = o.Settings.Daemon.RetryMaxAttempts
	}
	if o.Settings.Daemon.RetryInitialDelay.Duration > 0 {
		cfg.InitialDelay = o.Settings.Daemon.RetryInitialDelay.Duration
	}
	if o.Settings.Daemon.RetryMaxDelay.Duration > 0 {
		cfg.MaxDelay = o.Settings.Daemon.RetryMaxDelay.Duration
	}
	return cfg
}

// Run executes the daemon loop until the context is canceled or a shutdown
// signal arrives. Exactly one orchestrator runs per profile; the flock on
// daemon.lock is the authoritative guard.
func (o *Orchestrator) Run(ctx context.Context) error {
	paths := o.paths()
	if err := os.MkdirAll(paths.DaemonDir(), 0755); err != nil {
		return fmt.Errorf("creating daemon directory: %w", err)
	}

	// This prevents the TOCTOU race where multiple concurrent starts all
	// pass the IsRunning check before any writes the PID file.
	fileLock := flock.New(LockFile(paths))
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := os.WriteFile(PIDFile(paths), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(PIDFile(paths)) }() // best-effort cleanup

	o.logf("Daemon starting (PID %d, user %s)", os.Getpid(), o.Username)
	_ = o.Audit.Info(audit.CategoryDaemon, "daemon.start", o.actor(), map[string]any{"pid": os.Getpid()})

	watcher, err := mode.NewWatcher(o.modePath())
	if err != nil {
		return fmt.Errorf("starting mode watcher: %w", err)
	}
	defer func() { watcher.Stop() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, shutdownSignals()...)
	defer signal.Stop(sigChan)

	heartbeatTimer := time.NewTimer(o.heartbeatInterval())
	defer heartbeatTimer.Stop()
	pollTimer := time.NewTimer(o.pollInterval())
	defer pollTimer.Stop()

	// Converge on the current mode before waiting for changes.
	o.writeHeartbeat()
	o.evaluate(ctx)

	for {
		select {
		case <-ctx.Done():
			return o.shutdown("context canceled")

		case sig := <-sigChan:
			o.logf("Received signal %v, shutting down", sig)
			return o.shutdown(sig.String())

		case ev, ok := <-watcher.Events():
			if !ok {
				// The watch only dies when the OS watcher itself fails;
				// rebuild it so mode changes are never missed.
				watcher = o.rebuildWatcher(ctx)
				if watcher == nil {
					return o.shutdown("context canceled")
				}
				o.evaluate(ctx)
				continue
			}
			if ev.Reestablished {
				o.logf("Mode watch re-established")
				_ = o.Audit.Warn(audit.CategoryDaemon, "watch.reestablished", o.actor(), nil)
			}
			o.evaluate(ctx)

		case <-pollTimer.C:
			o.reconcile(ctx)
			pollTimer.Reset(o.pollInterval())

		case <-heartbeatTimer.C:
			o.cycle++
			o.writeHeartbeat()
			heartbeatTimer.Reset(o.heartbeatInterval())
		}
	}
}

// evaluate reads the mode descriptor and applies it. Transitions are
// edge-triggered: a notification carrying the value already applied does
// nothing, so repeated change events cannot double-stop or double-start.
func (o *Orchestrator) evaluate(ctx context.Context) {
	d, err := o.readMode(ctx)
	if err != nil {
		// Abandon this change and wait for the next notification; a bad
		// descriptor must never take the supervisor down.
		o.logf("Warning: failed to read mode descriptor: %v", err)
		_ = o.Audit.Warn(audit.CategoryMode, "mode.read_failed", o.actor(), map[string]any{"error": err.Error()})
		return
	}

	headless := d.IsHeadless()
	if o.applied != nil && *o.applied == headless {
		return
	}

	if headless {
		o.transitionToHeadless()
	} else {
		o.transitionToNormal(ctx)
	}
	o.applied = &headless

	if err := mode.Claim(o.modePath(), o.actor()); err != nil {
		o.logf("Warning: failed to claim mode: %v", err)
	}
}

// readMode loads the descriptor with bounded backoff. Torn reads from the
// external producer's mid-write window retry; permanent damage surfaces
// after the attempt ceiling.
func (o *Orchestrator) readMode(ctx context.Context) (*mode.Descriptor, error) {
	return util.Retry(ctx, o.retryConfig(), func() (*mode.Descriptor, error) {
		return mode.Load(o.modePath())
	})
}

// transitionToHeadless stops every registry-tracked agent.
func (o *Orchestrator) transitionToHeadless() {
	o.setState(StateTransitioningToHeadless)
	o.logf("Mode changed to headless, stopping agents")

	rep, err := o.Launcher.StopAll()
	if err != nil {
		// Settle in Headless anyway; the next reconcile pass retries the
		// stop, and an unreadable registry must not wedge the machine in
		// transition.
		o.logf("Warning: failed to stop agents: %v", err)
	}
	o.logf("Stopped agents for headless mode (stopped %d, failed %d, total %d)",
		rep.Stopped, rep.Failed, rep.Total)
	o.auditBatch("agents.stopped", rep.Stopped, rep.Failed, rep.Total)

	o.setState(StateHeadless)
}

// transitionToNormal starts the default agent set after the settle delay,
// which lets in-flight teardown from the previous mode finish.
func (o *Orchestrator) transitionToNormal(ctx context.Context) {
	o.setState(StateTransitioningToNormal)
	o.logf("Mode changed to normal, starting agents after %v settle delay", o.settleDelay())

	select {
	case <-ctx.Done():
		return
	case <-time.After(o.settleDelay()):
	}

	rep := o.startDesired()
	o.logf("Started agents for normal mode (started %d, failed %d, total %d)",
		len(rep.Started), len(rep.Failed), rep.Total)
	o.auditBatch("agents.started", len(rep.Started), len(rep.Failed), rep.Total)

	o.setState(StateNormal)
}

func (o *Orchestrator) startDesired() launcher.StartReport {
	defs, err := agent.DefaultSet(o.Settings)
	if err != nil {
		// Validated at construction; failing here means the config
		// changed under us. An empty desired set is the safe reading.
		o.logf("Warning: invalid default agent set: %v", err)
		return launcher.StartReport{}
	}
	return o.Launcher.StartSet(defs)
}

// auditBatch records one batch outcome, warning-level when anything failed.
func (o *Orchestrator) auditBatch(event string, done, failed, total int) {
	level := audit.LevelInfo
	if failed > 0 {
		level = audit.LevelWarn
	}
	key := "stopped"
	if event == "agents.started" {
		key = "started"
	}
	_ = o.Audit.Emit(level, audit.CategoryAgent, event, o.actor(), map[string]any{
		key:      done,
		"failed": failed,
		"total":  total,
	})
}

// reconcile repairs drift without a mode edge: vanished records are pruned,
// crashed members of the desired set restart during normal operation, and
// strays stop. Running it twice in a row changes nothing.
func (o *Orchestrator) reconcile(ctx context.Context) {
	if o.applied == nil {
		// The startup evaluation never completed, likely an unreadable
		// descriptor. Try again rather than supervising blind.
		o.evaluate(ctx)
		return
	}

	if _, err := o.Launcher.Prune(); err != nil {
		o.logf("Warning: failed to prune registry: %v", err)
	}

	if *o.applied {
		rep, err := o.Launcher.StopAll()
		if err != nil {
			o.logf("Warning: failed to stop stray agents: %v", err)
			return
		}
		if rep.Total > 0 {
			o.logf("Reconcile stopped %d stray agent(s)", rep.Stopped)
			o.auditBatch("agents.stopped", rep.Stopped, rep.Failed, rep.Total)
		}
		return
	}

	defs, err := agent.DefaultSet(o.Settings)
	if err != nil {
		o.logf("Warning: invalid default agent set: %v", err)
		return
	}
	o.stopStrays(defs)
	rep := o.Launcher.StartSet(defs)
	if len(rep.Started) > 0 || len(rep.Failed) > 0 {
		o.logf("Reconcile started %d agent(s)", len(rep.Started))
		o.auditBatch("agents.started", len(rep.Started), len(rep.Failed), rep.Total)
	}
}

// stopStrays stops registered agents outside the desired set, so a shrunken
// default list converges without a daemon restart.
func (o *Orchestrator) stopStrays(defs []agent.Definition) {
	records, err := o.Launcher.Registry.ListRunning()
	if err != nil {
		o.logf("Warning: failed to list agents: %v", err)
		return
	}

	desired := make(map[string]bool, len(defs))
	for _, def := range defs {
		desired[def.Name] = true
	}
	for _, rec := range records {
		if desired[rec.Name] {
			continue
		}
		o.logf("Stopping %s: no longer in the default set", rec.Name)
		if _, err := o.Launcher.Stop(rec.Name); err != nil {
			o.logf("Warning: failed to stop %s: %v", rec.Name, err)
		}
	}
}

// rebuildWatcher keeps retrying until a new watch is in place or the
// context ends. The daemon never goes silently dark.
func (o *Orchestrator) rebuildWatcher(ctx context.Context) *mode.Watcher {
	delay := time.Second
	for {
		w, err := mode.NewWatcher(o.modePath())
		if err == nil {
			o.logf("Mode watch re-established")
			_ = o.Audit.Warn(audit.CategoryDaemon, "watch.reestablished", o.actor(), nil)
			return w
		}
		o.logf("Warning: failed to rebuild mode watcher: %v", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

// shutdown stops supervised agents and records the daemon's exit. Locks
// release as the agents exit, so the next daemon starts against a clean
// registry.
func (o *Orchestrator) shutdown(reason string) error {
	o.logf("Daemon shutting down (%s)", reason)

	rep, err := o.Launcher.StopAll()
	if err != nil {
		o.logf("Warning: failed to stop agents: %v", err)
	} else if rep.Total > 0 {
		o.logf("Stopped %d agent(s)", rep.Stopped)
		o.auditBatch("agents.stopped", rep.Stopped, rep.Failed, rep.Total)
	}

	_ = o.Audit.Info(audit.CategoryDaemon, "daemon.stop", o.actor(), map[string]any{"pid": os.Getpid()})
	o.logf("Daemon stopped")
	return nil
}
