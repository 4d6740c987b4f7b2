package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metahuman-os/cortex/internal/audit"
	"github.com/metahuman-os/cortex/internal/ui"
)

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: GroupDiag,
	Short:   "Show recent audit trail entries for a user",
	Long: `Show the most recent entries from a user's audit trail.

The trail records what the coordination layer did on the user's behalf:
agents started and stopped, locks skipped, mode changes observed.`,
	RunE: runAudit,
}

var auditLimit int

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Number of entries to show")

	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	entries, err := audit.Tail(t.paths.AuditLog(), auditLimit)
	if err != nil {
		return fmt.Errorf("reading audit trail: %w", err)
	}
	if len(entries) == 0 {
		fmt.Printf("No audit entries for %s\n", t.username)
		return nil
	}

	for _, e := range entries {
		icon := " "
		switch e.Level {
		case audit.LevelWarn:
			icon = ui.RenderWarnIcon()
		case audit.LevelError:
			icon = ui.RenderFailIcon()
		}

		details := ""
		if len(e.Details) > 0 {
			if data, err := json.Marshal(e.Details); err == nil {
				details = " " + ui.RenderMuted(string(data))
			}
		}

		fmt.Printf("%s %s  %-6s %-18s %s%s\n",
			icon,
			e.TS.Local().Format("2006-01-02 15:04:05"),
			e.Category,
			e.Event,
			e.Actor,
			details)
	}
	return nil
}
