// Package registry tracks live agent processes for one user. Every running
// agent has a record file under the user's agents directory, so any process
// can enumerate what is running by reading the directory; there is no
// in-memory authority to query.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/metahuman-os/cortex/internal/util"
)

// ErrNotRegistered indicates no record exists for the agent name.
var ErrNotRegistered = errors.New("agent not registered")

// Status is an agent's lifecycle state as recorded in the registry.
type Status string

const (
	// StatusStarting means the process was spawned but not yet confirmed
	// healthy.
	StatusStarting Status = "starting"

	// StatusRunning means the process is confirmed alive.
	StatusRunning Status = "running"

	// StatusStopping means a stop was requested and the process is inside
	// its grace period.
	StatusStopping Status = "stopping"

	// StatusStopped means the process exited after a requested stop.
	StatusStopped Status = "stopped"

	// StatusFailed means the process exited abnormally or refused to die
	// when stopped.
	StatusFailed Status = "failed"
)

// Record is the on-disk registry entry at <dir>/<name>.json.
type Record struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// Alive reports whether the record describes a process that should exist.
// Stopped and failed records are terminal; they describe a process that is
// already gone.
func (r *Record) Alive() bool {
	return r.Status != StatusStopped && r.Status != StatusFailed
}

// Store is a file-backed agent registry rooted at Dir.
type Store struct {
	Dir string
}

// NewStore returns a Store for the given agents directory.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

// Register records a newly spawned agent in the starting state. An existing
// record for the name is overwritten: registration happens right after
// spawn, so whatever was there describes a process that no longer owns the
// name.
func (s *Store) Register(name string, pid int) (*Record, error) {
	if err := util.ValidateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating agents directory: %w", err)
	}

	rec := &Record{
		Name:      name,
		PID:       pid,
		Status:    StatusStarting,
		StartedAt: time.Now().UTC(),
	}
	if err := util.AtomicWriteJSON(s.recordPath(name), rec); err != nil {
		return nil, fmt.Errorf("writing registry record: %w", err)
	}
	return rec, nil
}

// SetStatus updates the recorded lifecycle state for an agent.
func (s *Store) SetStatus(name string, status Status) error {
	rec, err := s.Get(name)
	if err != nil {
		return err
	}
	rec.Status = status
	if err := util.AtomicWriteJSON(s.recordPath(name), rec); err != nil {
		return fmt.Errorf("writing registry record: %w", err)
	}
	return nil
}

// Unregister removes the agent's record. Unregistering a name that has no
// record is a no-op, so exit paths can unregister without checking first.
func (s *Store) Unregister(name string) error {
	if err := util.ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.recordPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing registry record: %w", err)
	}
	return nil
}

// Get returns the record for one agent, or ErrNotRegistered.
func (s *Store) Get(name string) (*Record, error) {
	if err := util.ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
		}
		return nil, fmt.Errorf("reading registry record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing registry record for %s: %w", name, err)
	}
	return &rec, nil
}

// List returns all records ordered by name. Records that fail to parse are
// skipped; debris from a crash must not break enumeration.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading agents directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// ListRunning returns the records of agents that should currently have a
// live process, ordered by name.
func (s *Store) ListRunning() ([]*Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	var running []*Record
	for _, rec := range records {
		if rec.Alive() {
			running = append(running, rec)
		}
	}
	return running, nil
}
