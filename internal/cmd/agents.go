package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/metahuman-os/cortex/internal/agent"
	"github.com/metahuman-os/cortex/internal/registry"
	"github.com/metahuman-os/cortex/internal/ui"
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	GroupID: GroupAgents,
	Short:   "List agent processes for a user",
	Long: `List the catalog agents and their registry state for a user.

Shows:
- Catalog agents with no process as idle
- Registered processes with their recorded status and PID
- Liveness checked against the actual process table`,
	RunE: runAgents,
}

var agentsJSON bool

func init() {
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "Output in JSON format")

	rootCmd.AddCommand(agentsCmd)
}

// agentRow represents one agent in the listing
type agentRow struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Alive     bool      `json:"alive"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

func runAgents(cmd *cobra.Command, args []string) error {
	t, err := resolveTarget()
	if err != nil {
		return err
	}

	store := registry.NewStore(t.paths.AgentsDir())
	records, err := store.List()
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	byName := make(map[string]*registry.Record, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	// Catalog agents first, in catalog order, then any record the catalog
	// does not know about.
	var rows []agentRow
	for _, name := range agent.Names() {
		rec, ok := byName[name]
		if !ok {
			rows = append(rows, agentRow{Name: name, Status: "idle"})
			continue
		}
		delete(byName, name)
		rows = append(rows, recordRow(rec))
	}
	for _, rec := range records {
		if _, stray := byName[rec.Name]; stray {
			rows = append(rows, recordRow(rec))
		}
	}

	if agentsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Printf("%s %-18s %-10s %-8s %s\n", " ", "NAME", "STATUS", "PID", "STARTED")
	for _, row := range rows {
		icon := ui.RenderMuted("○")
		if row.Alive {
			icon = "●"
		}

		pid := "-"
		if row.PID > 0 {
			pid = fmt.Sprintf("%d", row.PID)
		}
		started := "-"
		if !row.StartedAt.IsZero() {
			started = ui.RelativeTime(row.StartedAt)
		}

		status := row.Status
		if row.Status == "idle" {
			status = ui.RenderMuted(status)
		}

		fmt.Printf("%s %-18s %-10s %-8s %s\n", icon, row.Name, status, pid, started)
	}

	return nil
}

func recordRow(rec *registry.Record) agentRow {
	row := agentRow{
		Name:      rec.Name,
		Status:    string(rec.Status),
		PID:       rec.PID,
		StartedAt: rec.StartedAt,
	}
	// A record can claim a live status for a process that already died,
	// since crashed daemons leave their registry behind.
	row.Alive = rec.Alive() && processAlive(rec.PID)
	return row
}
