package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/metahuman-os/cortex/internal/audit"
	"github.com/metahuman-os/cortex/internal/identity"
	"github.com/metahuman-os/cortex/internal/lock"
)

// Runner executes one agent process. The sequence is fixed: resolve the
// user, acquire the agent's lock, attach the user scope, then cycle until
// stopped. A denied lock is not an error: the runner announces the skip and
// returns having touched nothing in the profile.
type Runner struct {
	Root     string
	Username string
	Def      Definition

	// Work overrides the definition's built-in work function.
	Work WorkFunc

	// Once runs exactly one cycle even for continuous definitions.
	Once bool

	// StaleAfter overrides the lock staleness threshold. Zero means the
	// lock manager's default.
	StaleAfter time.Duration

	Audit  *audit.Logger
	Logger *log.Logger
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

func (r *Runner) actor() string {
	return "agent:" + r.Def.Name
}

// Run executes the agent until its work completes (one-shot), the context
// is canceled (graceful stop), or a cycle fails. Lock denial returns nil:
// the other instance owns this agent's slot and this process must leave
// zero side effects behind.
func (r *Runner) Run(ctx context.Context) error {
	if !r.Def.OneShot && !r.Once && r.Def.Interval <= 0 {
		return fmt.Errorf("agent %q has no cycle interval", r.Def.Name)
	}

	scope, err := identity.NewScope(r.Root, r.Username)
	if err != nil {
		return fmt.Errorf("resolving user %q: %w", r.Username, err)
	}
	paths := scope.Paths()

	locks := lock.NewManager(paths.LocksDir(), r.StaleAfter)
	held, err := locks.Acquire(r.Def.Name)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			r.logf("%s: %v; exiting", r.Def.Name, err)
			_ = r.Audit.Warn(audit.CategoryLock, "agent.skipped", r.actor(), map[string]any{
				"agent":  r.Def.Name,
				"user":   r.Username,
				"reason": "lock_held",
			})
			return nil
		}
		return fmt.Errorf("acquiring agent lock: %w", err)
	}
	defer func() {
		if err := held.Release(); err != nil {
			r.logf("Warning: failed to release lock for %s: %v", r.Def.Name, err)
		}
	}()

	r.logf("%s starting (user %s, pid %d)", r.Def.Name, r.Username, os.Getpid())
	return identity.RunScoped(ctx, scope, func(ctx context.Context) error {
		return r.cycleLoop(ctx, held, locks.StaleAfter/4)
	})
}

// cycleLoop runs work cycles on the definition's interval while renewing
// the lock heartbeat. The refresh cadence stays well under the staleness
// threshold so a healthy continuous agent is never healed away; a lost
// lock aborts the run, since exclusivity is gone.
func (r *Runner) cycleLoop(ctx context.Context, held *lock.Lock, refreshEvery time.Duration) error {
	work := r.Work
	if work == nil {
		work = builtinWork(r.Def.Name)
	}

	cycle := time.NewTimer(0)
	defer cycle.Stop()
	refresh := time.NewTicker(refreshEvery)
	defer refresh.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			r.logf("%s shutting down", r.Def.Name)
			return nil

		case <-refresh.C:
			if err := held.Refresh(); err != nil {
				if errors.Is(err, lock.ErrLost) {
					return fmt.Errorf("agent lock lost: %w", err)
				}
				r.logf("Warning: failed to refresh lock for %s: %v", r.Def.Name, err)
			}

		case <-cycle.C:
			n++
			if err := work(ctx); err != nil {
				return fmt.Errorf("work cycle %d: %w", n, err)
			}
			if r.Once || r.Def.OneShot {
				r.logf("%s finished single cycle", r.Def.Name)
				return nil
			}
			cycle.Reset(r.Def.Interval)
		}
	}
}
