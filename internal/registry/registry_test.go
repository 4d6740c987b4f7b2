package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestRegisterAndGet(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Register("memory-curator", 4242)
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if rec.Status != StatusStarting {
		t.Errorf("Status = %q, want %q", rec.Status, StatusStarting)
	}

	got, err := s.Get("memory-curator")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.PID != 4242 {
		t.Errorf("PID = %d, want 4242", got.PID)
	}
	if got.StartedAt.IsZero() {
		t.Error("StartedAt was not persisted")
	}
}

func TestRegisterOverwritesStaleRecord(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Register("memory-curator", 100); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	if err := s.SetStatus("memory-curator", StatusFailed); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	if _, err := s.Register("memory-curator", 200); err != nil {
		t.Fatalf("second Register error: %v", err)
	}

	got, err := s.Get("memory-curator")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.PID != 200 || got.Status != StatusStarting {
		t.Errorf("record = %+v, want fresh starting record with pid 200", got)
	}
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nobody")
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Register("memory-curator", 4242); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := s.SetStatus("memory-curator", StatusRunning); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	got, err := s.Get("memory-curator")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, StatusRunning)
	}

	if err := s.SetStatus("nobody", StatusRunning); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Register("memory-curator", 4242); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := s.Unregister("memory-curator"); err != nil {
		t.Fatalf("Unregister error: %v", err)
	}
	if _, err := s.Get("memory-curator"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered after unregister, got %v", err)
	}

	// Unknown names are a no-op so exit paths can always unregister.
	if err := s.Unregister("memory-curator"); err != nil {
		t.Errorf("repeat Unregister error: %v", err)
	}
	if err := s.Unregister("never-registered"); err != nil {
		t.Errorf("Unregister of unknown name error: %v", err)
	}
}

func TestListOrdersByName(t *testing.T) {
	s := newTestStore(t)

	for i, name := range []string{"question-asker", "memory-curator", "dream-generator"} {
		if _, err := s.Register(name, 1000+i); err != nil {
			t.Fatalf("Register(%s) error: %v", name, err)
		}
	}

	records, err := s.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}

	want := []string{"dream-generator", "memory-curator", "question-asker"}
	if len(records) != len(want) {
		t.Fatalf("List returned %d records, want %d", len(records), len(want))
	}
	for i, rec := range records {
		if rec.Name != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, rec.Name, want[i])
		}
	}
}

func TestListSkipsCorruptRecords(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Register("memory-curator", 4242); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, "broken.json"), []byte("{oops"), 0644); err != nil {
		t.Fatalf("write corrupt record: %v", err)
	}

	records, err := s.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(records) != 1 || records[0].Name != "memory-curator" {
		t.Errorf("List = %+v, want only memory-curator", records)
	}
}

func TestListRunningExcludesTerminal(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"memory-curator", "dream-generator", "question-asker"} {
		if _, err := s.Register(name, 1); err != nil {
			t.Fatalf("Register(%s) error: %v", name, err)
		}
	}
	if err := s.SetStatus("memory-curator", StatusRunning); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if err := s.SetStatus("dream-generator", StatusFailed); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	running, err := s.ListRunning()
	if err != nil {
		t.Fatalf("ListRunning error: %v", err)
	}

	// starting and running count as live; failed does not.
	want := []string{"memory-curator", "question-asker"}
	if len(running) != len(want) {
		t.Fatalf("ListRunning returned %d records, want %d", len(running), len(want))
	}
	for i, rec := range running {
		if rec.Name != want[i] {
			t.Errorf("ListRunning[%d] = %q, want %q", i, rec.Name, want[i])
		}
	}
}

func TestListEmptyDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"))

	records, err := s.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil, got %v", records)
	}
}
