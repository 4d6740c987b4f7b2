package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metahuman-os/cortex/internal/lock"
	"github.com/metahuman-os/cortex/internal/ui"
)

var locksCmd = &cobra.Command{
	Use:     "locks",
	GroupID: GroupDiag,
	Short:   "Show agent lock records for a user",
	Long: `Show the agent lock records under a user's profile.

Stale records are flagged but never removed here; healing happens lazily
when the next acquirer claims the name.`,
	RunE: runLocks,
}

func init() {
	rootCmd.AddCommand(locksCmd)
}

func runLocks(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	manager := lock.NewManager(t.paths.LocksDir(), t.cfg.Lock.StaleAfter.Duration)
	infos, err := manager.List()
	if err != nil {
		return fmt.Errorf("listing locks: %w", err)
	}
	if len(infos) == 0 {
		fmt.Printf("No locks held for %s\n", t.username)
		return nil
	}

	tbl := ui.NewTable(
		ui.Column{Name: "NAME", Width: 18},
		ui.Column{Name: "HOLDER", Width: 36},
		ui.Column{Name: "HEARTBEAT", Width: 12},
		ui.Column{Name: "STATE", Width: 10},
	)
	for _, info := range infos {
		holder := info.HolderID
		if holder == "" {
			holder = ui.RenderMuted("(unreadable)")
		}

		state := "live"
		if info.Stale {
			state = fmt.Sprintf("%s stale", ui.RenderWarnIcon())
		}

		tbl.AddRow(info.Name, holder, ui.RelativeTime(info.HeartbeatAt), state)
	}
	fmt.Print(tbl.Render())
	return nil
}
