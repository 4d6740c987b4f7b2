package mode

import (
	"os"
	"path/filepath"
	"testing"
)

func modePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state", "mode.json")
}

func TestLoadMissing(t *testing.T) {
	d, err := Load(modePath(t))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if d != nil {
		t.Errorf("expected nil descriptor, got %+v", d)
	}
	if d.IsHeadless() {
		t.Error("missing descriptor must read as interactive")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := modePath(t)

	in := &Descriptor{Headless: true, LastChangedBy: "alice"}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if in.UpdatedAt.IsZero() {
		t.Error("Save did not stamp UpdatedAt")
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !out.IsHeadless() {
		t.Error("expected headless descriptor")
	}
	if out.LastChangedBy != "alice" {
		t.Errorf("LastChangedBy = %q, want alice", out.LastChangedBy)
	}
}

func TestSetHeadlessTogglesAndClearsClaim(t *testing.T) {
	path := modePath(t)

	d, err := SetHeadless(path, true, "alice")
	if err != nil {
		t.Fatalf("SetHeadless error: %v", err)
	}
	if !d.Headless || d.LastChangedBy != "alice" {
		t.Errorf("descriptor = %+v, want headless by alice", d)
	}

	if err := Claim(path, "daemon:alice"); err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	claimed, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if claimed.ClaimedBy != "daemon:alice" {
		t.Errorf("ClaimedBy = %q, want daemon:alice", claimed.ClaimedBy)
	}

	// Toggling again must invalidate the old claim.
	d, err = SetHeadless(path, false, "bob")
	if err != nil {
		t.Fatalf("SetHeadless error: %v", err)
	}
	if d.Headless {
		t.Error("expected interactive mode")
	}
	if d.ClaimedBy != "" {
		t.Errorf("ClaimedBy = %q, want cleared", d.ClaimedBy)
	}
}

func TestClaimMissingDescriptor(t *testing.T) {
	if err := Claim(modePath(t), "daemon:alice"); err != nil {
		t.Errorf("Claim on missing descriptor should be a no-op, got %v", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := modePath(t)
	if err := Save(path, &Descriptor{}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := os.WriteFile(path, []byte("{torn"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for corrupt descriptor")
	}
}
