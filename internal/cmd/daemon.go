package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/metahuman-os/cortex/internal/config"
	"github.com/metahuman-os/cortex/internal/orchestrator"
	"github.com/metahuman-os/cortex/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupServices,
	Short:   "Manage the per-user cortex daemon",
	RunE:    requireSubcommand,
	Long: `Manage the cortex background daemon.

The daemon supervises one user's agents:
- Watches the installation mode descriptor for changes
- Stops every agent when the installation goes headless
- Restores the default agent set when it returns to normal
- Restarts crashed agents and prunes dead registry records

One daemon runs per user profile, each holding its own singleton lock.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the cortex daemon in the background.

The daemon will run until stopped with 'cortex daemon stop'.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Stop the running cortex daemon and its agents.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show the current status of the cortex daemon.`,
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	Long:  `View the daemon log file.`,
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run daemon in foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	Long:  `Stop and start the daemon. Useful after upgrading cortex.`,
	RunE:  runDaemonRestart,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")

	rootCmd.AddCommand(daemonCmd)
}

// spawnDaemon starts the detached daemon process for the target user.
// CORTEX_ROOT is pinned explicitly so an inherited value for some other
// installation can never redirect the spawned process.
func spawnDaemon(t *target) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("finding executable: %w", err)
	}

	proc := exec.Command(exe, "daemon", "run", "--user", t.username)
	proc.Dir = t.root
	proc.Env = config.EnvForExecCommand(map[string]string{config.EnvRoot: t.root})

	// Detach from terminal
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil

	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("starting daemon: %w", err)
	}
	return proc, nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	// Check if already running
	running, pid, err := orchestrator.IsRunning(t.paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon already running for %s (PID %d)", t.username, pid)
	}

	// Start daemon in background
	// We use 'cortex daemon run' as the actual daemon process
	proc, err := spawnDaemon(t)
	if err != nil {
		return err
	}

	// Wait a moment for the daemon to initialize and acquire the lock
	time.Sleep(200 * time.Millisecond)

	// Verify it started
	running, pid, err = orchestrator.IsRunning(t.paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon failed to start (check logs with 'cortex daemon logs')")
	}

	// Check if our spawned process is the one that won the race.
	// If another concurrent start won, our process would have exited after
	// failing to acquire the lock, and the PID file would have a different PID.
	if pid != proc.Process.Pid {
		// Another daemon won the race - that's fine, report it
		fmt.Printf("%s Daemon already running for %s (PID %d)\n", ui.RenderWarnIcon(), t.username, pid)
		return nil
	}

	fmt.Printf("%s Daemon started for %s (PID %d, v%s)\n", ui.RenderPassIcon(), t.username, pid, Version)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	running, pid, err := orchestrator.IsRunning(t.paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running for %s", t.username)
	}

	if err := orchestrator.Stop(t.paths); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("%s Daemon stopped (was PID %d)\n", ui.RenderPassIcon(), pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	running, pid, err := orchestrator.IsRunning(t.paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}

	if running {
		// Load the heartbeat for more details
		hb, hbErr := orchestrator.ReadHeartbeat(t.paths)

		// Header line with semantic styling
		fmt.Printf("%s Daemon running for %s (PID %d, v%s)\n",
			ui.RenderPassIcon(), t.username, pid, Version)
		fmt.Println()

		// Details with aligned labels
		fmt.Printf("  Installation:  %s\n", ui.ShortenPath(t.root))

		if hbErr == nil && hb != nil {
			fmt.Printf("  State:         %s\n", hb.State)
			fmt.Printf("  Heartbeat:     #%d (%s)\n", hb.Cycle, ui.RelativeTime(hb.TS))
		}

		// Log file location (shortened path)
		fmt.Printf("  Log:           %s\n", ui.ShortenPath(orchestrator.LogFile(t.paths)))

		// Check if binary is newer than process (version mismatch warning).
		// The PID file is written at daemon startup, so its mtime marks the
		// start of the running process.
		if info, err := os.Stat(orchestrator.PIDFile(t.paths)); err == nil {
			if binaryModTime, err := getBinaryModTime(); err == nil && binaryModTime.After(info.ModTime()) {
				fmt.Println()
				fmt.Printf("  %s Binary updated since daemon start\n", ui.RenderWarnIcon())
				fmt.Printf("    Run: %s\n", ui.RenderMuted("cortex daemon restart"))
			}
		}
	} else {
		fmt.Printf("%s Daemon not running for %s\n", ui.RenderMuted("○"), t.username)
		fmt.Println()
		fmt.Printf("  Installation:  %s\n", ui.ShortenPath(t.root))
		fmt.Println()
		fmt.Printf("  Start with: %s\n", ui.RenderMuted("cortex daemon start"))
	}

	return nil
}

// getBinaryModTime returns the modification time of the current executable
func getBinaryModTime() (time.Time, error) {
	exePath, err := os.Executable()
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(exePath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	logFile := orchestrator.LogFile(t.paths)

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	if daemonLogFollow {
		// Use tail -f for following
		tailCmd := exec.Command("tail", "-f", logFile)
		tailCmd.Stdout = os.Stdout
		tailCmd.Stderr = os.Stderr
		return tailCmd.Run()
	}

	// Use tail -n for last N lines
	tailCmd := exec.Command("tail", "-n", fmt.Sprintf("%d", daemonLogLines), logFile)
	tailCmd.Stdout = os.Stdout
	tailCmd.Stderr = os.Stderr
	return tailCmd.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	o, err := orchestrator.New(t.root, t.username, t.cfg)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}

	return o.Run(cmd.Context())
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	// Check if running and stop if so
	running, pid, err := orchestrator.IsRunning(t.paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}

	if running {
		fmt.Printf("Stopping daemon (PID %d)...\n", pid)
		if err := orchestrator.Stop(t.paths); err != nil {
			return fmt.Errorf("stopping daemon: %w", err)
		}
		// Brief pause to ensure clean shutdown
		time.Sleep(200 * time.Millisecond)
	}

	// Start the daemon
	fmt.Println("Starting daemon...")
	if _, err := spawnDaemon(t); err != nil {
		return err
	}

	// Wait for it to initialize
	time.Sleep(200 * time.Millisecond)

	// Verify it started
	running, newPid, err := orchestrator.IsRunning(t.paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon failed to start (check logs with 'cortex daemon logs')")
	}

	if pid > 0 {
		fmt.Printf("%s Daemon restarted (PID %d → %d, v%s)\n",
			ui.RenderPassIcon(), pid, newPid, Version)
	} else {
		fmt.Printf("%s Daemon started (PID %d, v%s)\n",
			ui.RenderPassIcon(), newPid, Version)
	}
	return nil
}
