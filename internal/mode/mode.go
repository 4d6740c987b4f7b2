// Package mode reads, writes, and watches the installation's mode
// descriptor. The descriptor is the single file external surfaces toggle
// to move the installation between interactive and headless operation; the
// orchestrator never changes modes on its own initiative.
package mode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metahuman-os/cortex/internal/util"
)

// Descriptor is the installation-global mode file at state/mode.json.
type Descriptor struct {
	// Headless is the desired operating mode. True means this machine has
	// gone dark and no local agents should be running.
	Headless bool `json:"headless"`

	// LastChangedBy records who toggled the mode.
	LastChangedBy string `json:"last_changed_by"`

	// ClaimedBy records which orchestrator acknowledged the current mode
	// by completing its transition.
	ClaimedBy string `json:"claimed_by,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsHeadless reports the effective mode for a possibly-nil descriptor.
// A missing descriptor means interactive: headless operation only ever
// starts from an explicit toggle.
func (d *Descriptor) IsHeadless() bool {
	return d != nil && d.Headless
}

// Load reads the descriptor at path. A missing file returns (nil, nil).
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading mode descriptor: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing mode descriptor: %w", err)
	}
	return &d, nil
}

// Save atomically replaces the descriptor at path, stamping UpdatedAt.
func Save(path string, d *Descriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	d.UpdatedAt = time.Now().UTC()
	if err := util.AtomicWriteJSON(path, d); err != nil {
		return fmt.Errorf("writing mode descriptor: %w", err)
	}
	return nil
}

// SetHeadless toggles the mode at path, preserving fields it does not own.
// actor names whoever requested the change.
func SetHeadless(path string, headless bool, actor string) (*Descriptor, error) {
	d, err := Load(path)
	if err != nil {
		return nil, err
	}
	if d == nil {
		d = &Descriptor{}
	}

	d.Headless = headless
	d.LastChangedBy = actor
	// A mode flip invalidates the previous claim; the orchestrator
	// re-claims once it finishes transitioning.
	d.ClaimedBy = ""

	if err := Save(path, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Claim records that actor has completed the transition into the current
// mode. The descriptor may have been replaced since the caller read it;
// Claim re-reads and only stamps the claim.
func Claim(path, actor string) error {
	d, err := Load(path)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	d.ClaimedBy = actor
	return Save(path, d)
}
