// Package lock provides per-agent mutual exclusion backed by lock record
// files. Acquisition uses atomic create-if-absent, so it excludes unrelated
// processes, not just goroutines. Records left behind by crashed holders go
// stale and are healed lazily at the next acquisition attempt; nothing
// sweeps the lock directory in the background.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/metahuman-os/cortex/internal/util"
)

var (
	// ErrHeld indicates another holder owns a live lock on the name.
	ErrHeld = errors.New("lock held")

	// ErrLost indicates the holder's record is gone or owned by someone
	// else, typically because the record went stale and another process
	// healed it. Refresh returns it; the holder must abort its run.
	ErrLost = errors.New("lock lost")
)

// DefaultStaleAfter applies when a Manager is built without an explicit
// staleness threshold.
const DefaultStaleAfter = 2 * time.Hour

// corruptGrace shields just-created records from healing. A record that
// does not parse but is younger than this may still be mid-write by its
// creator.
const corruptGrace = 10 * time.Second

// Manager hands out named locks backed by record files in Dir.
type Manager struct {
	Dir        string
	StaleAfter time.Duration
}

// NewManager returns a Manager for the given locks directory.
func NewManager(dir string, staleAfter time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Manager{Dir: dir, StaleAfter: staleAfter}
}

// Lock is a held lock. Release it when work completes and Refresh it
// periodically while work continues, or the record will age past the
// staleness threshold and become healable.
type Lock struct {
	Name     string
	HolderID string

	m        *Manager
	released bool
}

// record is the on-disk lock format at <dir>/<name>.json.
type record struct {
	Name        string    `json:"name"`
	HolderID    string    `json:"holder_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
}

func (m *Manager) recordPath(name string) string {
	return filepath.Join(m.Dir, name+".json")
}

// guardPath names the flock file serializing heal, release, and refresh
// for one lock name. The guard never protects acquisition itself; creating
// the record file is the atomic claim.
func (m *Manager) guardPath(name string) string {
	return filepath.Join(m.Dir, name+".guard")
}

// Acquire claims the named lock. It returns ErrHeld while another holder's
// record is live. A record whose heartbeat has aged past StaleAfter is
// healed and the claim retried.
func (m *Manager) Acquire(name string) (*Lock, error) {
	if err := util.ValidateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating locks directory: %w", err)
	}

	holderID := uuid.New().String()

	// Fast path: no record present.
	created, err := m.claim(name, holderID)
	if err != nil {
		return nil, err
	}
	if created {
		return &Lock{Name: name, HolderID: holderID, m: m}, nil
	}

	rec, healable, err := m.evaluate(name)
	if err != nil {
		return nil, err
	}
	if !healable {
		return nil, heldErr(name, rec)
	}

	return m.heal(name, holderID)
}

// claim attempts the atomic create-if-absent. It reports false without
// error when a record already exists.
func (m *Manager) claim(name, holderID string) (bool, error) {
	path := m.recordPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating lock record: %w", err)
	}

	now := time.Now().UTC()
	data, err := json.MarshalIndent(record{
		Name:        name,
		HolderID:    holderID,
		AcquiredAt:  now,
		HeartbeatAt: now,
	}, "", "  ")
	if err != nil {
		f.Close()
		os.Remove(path)
		return false, fmt.Errorf("marshaling lock record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		// Remove our own half-written claim so the name is not wedged
		// until the corrupt-record path clears it.
		f.Close()
		os.Remove(path)
		return false, fmt.Errorf("writing lock record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("closing lock record: %w", err)
	}
	return true, nil
}

// heal removes a stale or corrupt record and claims the name, serialized by
// the guard so two healers cannot both remove and recreate.
func (m *Manager) heal(name, holderID string) (*Lock, error) {
	guard := flock.New(m.guardPath(name))
	if err := guard.Lock(); err != nil {
		return nil, fmt.Errorf("locking heal guard: %w", err)
	}
	defer guard.Unlock()

	// Re-evaluate under the guard: another process may have healed and
	// claimed while we waited.
	rec, healable, err := m.evaluate(name)
	if err != nil {
		return nil, err
	}
	if !healable {
		return nil, heldErr(name, rec)
	}

	if err := os.Remove(m.recordPath(name)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale lock record: %w", err)
	}

	created, err := m.claim(name, holderID)
	if err != nil {
		return nil, err
	}
	if !created {
		// A fresh acquirer slipped in between our remove and claim;
		// its brand-new record is live by construction.
		return nil, heldErr(name, nil)
	}
	return &Lock{Name: name, HolderID: holderID, m: m}, nil
}

// evaluate reads the current record and classifies it. healable is true
// when the name can be claimed after clearing whatever is there: the record
// is absent, stale, or corrupt beyond the grace window.
func (m *Manager) evaluate(name string) (rec *record, healable bool, err error) {
	path := m.recordPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("reading lock record: %w", err)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil || r.HolderID == "" {
		// Unreadable record. If it is young it may still be mid-write
		// by a live acquirer, so leave it alone.
		info, statErr := os.Stat(path)
		if statErr == nil && time.Since(info.ModTime()) < corruptGrace {
			return nil, false, nil
		}
		return nil, true, nil
	}

	if time.Since(r.HeartbeatAt) >= m.StaleAfter {
		return &r, true, nil
	}
	return &r, false, nil
}

// IsLocked reports whether a live lock exists for the name. Stale and
// healable records count as unlocked; checking never heals them.
func (m *Manager) IsLocked(name string) (bool, error) {
	if err := util.ValidateName(name); err != nil {
		return false, err
	}
	_, healable, err := m.evaluate(name)
	if err != nil {
		return false, err
	}
	return !healable, nil
}

// Release removes the holder's record. Releasing a lock that was already
// released, or healed away by another process, is a no-op: there is nothing
// of ours left to remove, and the new holder's record must survive.
func (l *Lock) Release() error {
	if l.released {
		return nil
	}

	guard := flock.New(l.m.guardPath(l.Name))
	if err := guard.Lock(); err != nil {
		return fmt.Errorf("locking heal guard: %w", err)
	}
	defer guard.Unlock()

	rec, err := l.m.readRecord(l.Name)
	if err != nil || rec.HolderID != l.HolderID {
		l.released = true
		return nil
	}

	if err := os.Remove(l.m.recordPath(l.Name)); err != nil {
		return fmt.Errorf("removing lock record: %w", err)
	}
	l.released = true
	return nil
}

// Refresh advances the record's heartbeat so the lock stays fresh. Holders
// doing long work call this on an interval well under the staleness
// threshold.
func (l *Lock) Refresh() error {
	if l.released {
		return fmt.Errorf("agent %s: %w", l.Name, ErrLost)
	}

	guard := flock.New(l.m.guardPath(l.Name))
	if err := guard.Lock(); err != nil {
		return fmt.Errorf("locking heal guard: %w", err)
	}
	defer guard.Unlock()

	rec, err := l.m.readRecord(l.Name)
	if err != nil || rec.HolderID != l.HolderID {
		return fmt.Errorf("agent %s: %w", l.Name, ErrLost)
	}

	rec.HeartbeatAt = time.Now().UTC()
	if err := util.AtomicWriteJSON(l.m.recordPath(l.Name), rec); err != nil {
		return fmt.Errorf("refreshing lock record: %w", err)
	}
	return nil
}

// readRecord reads and parses the record file without classifying it.
func (m *Manager) readRecord(name string) (*record, error) {
	data, err := os.ReadFile(m.recordPath(name))
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing lock record: %w", err)
	}
	return &r, nil
}

func heldErr(name string, rec *record) error {
	if rec != nil {
		return fmt.Errorf("agent %s held by %s: %w", name, rec.HolderID, ErrHeld)
	}
	return fmt.Errorf("agent %s: %w", name, ErrHeld)
}
