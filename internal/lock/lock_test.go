package lock

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), 2*time.Hour)
}

// writeRecord plants a lock record directly, bypassing Acquire, so tests
// can simulate holders from other processes and crashed holders.
func writeRecord(t *testing.T, m *Manager, name, holderID string, heartbeatAge time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	rec := record{
		Name:        name,
		HolderID:    holderID,
		AcquiredAt:  now.Add(-heartbeatAge - time.Minute),
		HeartbeatAt: now.Add(-heartbeatAge),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(m.recordPath(name), data, 0644); err != nil {
		t.Fatalf("write record: %v", err)
	}
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if l.HolderID == "" {
		t.Error("expected generated holder ID")
	}

	if _, err := os.Stat(m.recordPath("memory-curator")); err != nil {
		t.Fatalf("record missing while held: %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if _, err := os.Stat(m.recordPath("memory-curator")); !os.IsNotExist(err) {
		t.Fatal("record still present after release")
	}
}

func TestAcquireDeniedWhileHeld(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	defer l.Release()

	_, err = m.Acquire("memory-curator")
	if !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld, got %v", err)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("dream-generator")
	if err != nil {
		t.Fatalf("first Acquire error: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	l2, err := m.Acquire("dream-generator")
	if err != nil {
		t.Fatalf("second Acquire error: %v", err)
	}
	if l2.HolderID == l.HolderID {
		t.Error("expected a fresh holder ID")
	}
	l2.Release()
}

func TestAcquireDifferentNamesIndependent(t *testing.T) {
	m := newTestManager(t)

	l1, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire memory-curator error: %v", err)
	}
	defer l1.Release()

	l2, err := m.Acquire("dream-generator")
	if err != nil {
		t.Fatalf("Acquire dream-generator error: %v", err)
	}
	defer l2.Release()
}

func TestStaleLockHealed(t *testing.T) {
	m := newTestManager(t)
	writeRecord(t, m, "memory-curator", "dead-holder", 3*time.Hour)

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire over stale lock error: %v", err)
	}
	defer l.Release()

	if l.HolderID == "dead-holder" {
		t.Error("expected a new holder ID after healing")
	}

	rec, err := m.readRecord("memory-curator")
	if err != nil {
		t.Fatalf("readRecord error: %v", err)
	}
	if rec.HolderID != l.HolderID {
		t.Errorf("record holder = %q, want %q", rec.HolderID, l.HolderID)
	}
}

func TestFreshLockNotHealed(t *testing.T) {
	m := newTestManager(t)
	writeRecord(t, m, "memory-curator", "live-holder", time.Minute)

	_, err := m.Acquire("memory-curator")
	if !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld for fresh foreign lock, got %v", err)
	}
}

func TestCorruptRecordHealedWhenOld(t *testing.T) {
	m := newTestManager(t)
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := m.recordPath("memory-curator")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire over corrupt record error: %v", err)
	}
	l.Release()
}

func TestCorruptRecordProtectedWhenYoung(t *testing.T) {
	m := newTestManager(t)
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Just written: could be a live acquirer mid-write.
	if err := os.WriteFile(m.recordPath("memory-curator"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := m.Acquire("memory-curator")
	if !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld for young corrupt record, got %v", err)
	}
}

func TestIsLocked(t *testing.T) {
	m := newTestManager(t)

	locked, err := m.IsLocked("memory-curator")
	if err != nil {
		t.Fatalf("IsLocked error: %v", err)
	}
	if locked {
		t.Error("absent record should report unlocked")
	}

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	locked, err = m.IsLocked("memory-curator")
	if err != nil {
		t.Fatalf("IsLocked error: %v", err)
	}
	if !locked {
		t.Error("held lock should report locked")
	}
	l.Release()

	writeRecord(t, m, "memory-curator", "dead-holder", 3*time.Hour)
	locked, err = m.IsLocked("memory-curator")
	if err != nil {
		t.Fatalf("IsLocked error: %v", err)
	}
	if locked {
		t.Error("stale lock should report unlocked")
	}
	if _, err := os.Stat(m.recordPath("memory-curator")); err != nil {
		t.Error("IsLocked must not heal the record")
	}
}

func TestReleaseAfterHealIsNoop(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	// Simulate the holder stalling long enough for its heartbeat to age
	// out, then a second process healing the lock.
	writeRecord(t, m, "memory-curator", l.HolderID, 3*time.Hour)
	stolen, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("healing Acquire error: %v", err)
	}

	if err := l.Release(); err != nil {
		t.Errorf("release of a healed-away lock should be a no-op, got %v", err)
	}

	// The healer's record must survive the loser's release attempt.
	rec, err := m.readRecord("memory-curator")
	if err != nil {
		t.Fatalf("readRecord error: %v", err)
	}
	if rec.HolderID != stolen.HolderID {
		t.Errorf("record holder = %q, want healer %q", rec.HolderID, stolen.HolderID)
	}
	stolen.Release()
}

func TestRefreshAdvancesHeartbeat(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	defer l.Release()

	before, err := m.readRecord("memory-curator")
	if err != nil {
		t.Fatalf("readRecord error: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := l.Refresh(); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	after, err := m.readRecord("memory-curator")
	if err != nil {
		t.Fatalf("readRecord error: %v", err)
	}
	if !after.HeartbeatAt.After(before.HeartbeatAt) {
		t.Errorf("heartbeat did not advance: before %v, after %v", before.HeartbeatAt, after.HeartbeatAt)
	}
	if !after.AcquiredAt.Equal(before.AcquiredAt) {
		t.Errorf("AcquiredAt changed on refresh: before %v, after %v", before.AcquiredAt, after.AcquiredAt)
	}
}

func TestRefreshLostAfterHeal(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	writeRecord(t, m, "memory-curator", l.HolderID, 3*time.Hour)
	stolen, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("healing Acquire error: %v", err)
	}
	defer stolen.Release()

	if err := l.Refresh(); !errors.Is(err, ErrLost) {
		t.Errorf("expected ErrLost from stale holder's refresh, got %v", err)
	}
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("first Release error: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m := newTestManager(t)

	const contenders = 16
	var wg sync.WaitGroup
	results := make(chan *Lock, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := m.Acquire("memory-curator")
			if err == nil {
				results <- l
				return
			}
			if !errors.Is(err, ErrHeld) {
				t.Errorf("loser got unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(results)

	var winners []*Lock
	for l := range results {
		winners = append(winners, l)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", len(winners))
	}
	winners[0].Release()
}

func TestConcurrentHealSingleWinner(t *testing.T) {
	m := newTestManager(t)
	writeRecord(t, m, "memory-curator", "dead-holder", 3*time.Hour)

	const contenders = 8
	var wg sync.WaitGroup
	results := make(chan *Lock, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := m.Acquire("memory-curator")
			if err == nil {
				results <- l
				return
			}
			if !errors.Is(err, ErrHeld) {
				t.Errorf("loser got unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(results)

	var winners []*Lock
	for l := range results {
		winners = append(winners, l)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 healer to win, got %d", len(winners))
	}
	winners[0].Release()
}

func TestAcquireRejectsBadName(t *testing.T) {
	m := newTestManager(t)

	for _, name := range []string{"", "../escape", "a/b", "UPPER"} {
		if _, err := m.Acquire(name); err == nil {
			t.Errorf("expected error for name %q", name)
		}
	}
}

func TestList(t *testing.T) {
	m := newTestManager(t)

	l, err := m.Acquire("memory-curator")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	defer l.Release()
	writeRecord(t, m, "dream-generator", "dead-holder", 3*time.Hour)

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 records, got %d", len(infos))
	}

	// Ordered by name: dream-generator first.
	if infos[0].Name != "dream-generator" || !infos[0].Stale {
		t.Errorf("infos[0] = %+v, want stale dream-generator", infos[0])
	}
	if infos[1].Name != "memory-curator" || infos[1].Stale {
		t.Errorf("infos[1] = %+v, want fresh memory-curator", infos[1])
	}
}

func TestListEmptyDir(t *testing.T) {
	m := NewManager(t.TempDir()+"/missing", time.Hour)
	infos, err := m.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if infos != nil {
		t.Errorf("expected nil, got %v", infos)
	}
}
