// Package agent defines the built-in background agents and the harness that
// runs one agent process end to end: resolve the user, take the agent's
// lock, then run work cycles until stopped.
package agent

import (
	"fmt"
	"time"

	"github.com/metahuman-os/cortex/internal/config"
)

// Definition describes one catalog agent.
type Definition struct {
	Name        string
	Description string

	// Interval between work cycles for continuous agents.
	Interval time.Duration

	// OneShot agents run a single cycle and exit.
	OneShot bool
}

// catalog lists the built-in agents. Names double as lock and registry keys.
var catalog = []Definition{
	{
		Name:        "memory-curator",
		Description: "Consolidates episodic memory into the curated store",
		Interval:    30 * time.Minute,
	},
	{
		Name:        "dream-generator",
		Description: "Synthesizes dream episodes from curated memory",
		Interval:    4 * time.Hour,
	},
	{
		Name:        "question-asker",
		Description: "Surfaces questions about neglected memories",
		Interval:    2 * time.Hour,
	},
}

// Lookup returns the catalog definition for name.
func Lookup(name string) (Definition, bool) {
	for _, def := range catalog {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Names returns the catalog agent names in catalog order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, def := range catalog {
		names[i] = def.Name
	}
	return names
}

// DefaultSet resolves the agents the daemon manages. A nil agents.default
// list means the whole catalog; an explicit empty list means none. Unknown
// names are an error rather than a silent skip, so a typo in the config
// cannot quietly disable an agent.
func DefaultSet(cfg *config.Config) ([]Definition, error) {
	if cfg == nil || cfg.Agents.Default == nil {
		defs := make([]Definition, len(catalog))
		copy(defs, catalog)
		return defs, nil
	}

	defs := make([]Definition, 0, len(cfg.Agents.Default))
	for _, name := range cfg.Agents.Default {
		def, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown agent %q in agents.default", name)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
