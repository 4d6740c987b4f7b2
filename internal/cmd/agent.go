package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/metahuman-os/cortex/internal/agent"
	"github.com/metahuman-os/cortex/internal/audit"
	"github.com/metahuman-os/cortex/internal/config"
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	GroupID: GroupAgents,
	Short:   "Run individual agents",
	RunE:    requireSubcommand,
}

var agentRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a catalog agent in the foreground",
	Long: `Run a catalog agent in the foreground.

This is the entry point the daemon spawns for each managed agent. The
process acquires the agent's lock, runs work cycles on the agent's
interval, and exits cleanly on SIGTERM.

If another process already holds the agent's lock, the run is skipped
and the command exits 0.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentRun,
}

var agentRunOnce bool

func init() {
	agentRunCmd.Flags().BoolVar(&agentRunOnce, "once", false, "Run a single work cycle and exit")

	agentCmd.AddCommand(agentRunCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgentRun(cmd *cobra.Command, args []string) error {
	name := args[0]
	def, ok := agent.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown agent %q (catalog: %s)", name, strings.Join(agent.Names(), ", "))
	}

	t, err := resolveTarget()
	if err != nil {
		return err
	}

	// Agents run detached with no stdio, so each logs to its own file
	// under the user's log directory.
	if err := os.MkdirAll(t.paths.LogsDir(), 0755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	logPath := filepath.Join(t.paths.LogsDir(), name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening agent log: %w", err)
	}
	defer logFile.Close()

	runner := &agent.Runner{
		Root:       t.root,
		Username:   t.username,
		Def:        def,
		Once:       agentRunOnce || os.Getenv(config.EnvOneshot) == "1",
		StaleAfter: t.cfg.Lock.StaleAfter.Duration,
		Audit:      audit.NewLogger(t.paths.AuditLog()),
		Logger:     log.New(logFile, "", log.LstdFlags),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runner.Run(ctx)
}
