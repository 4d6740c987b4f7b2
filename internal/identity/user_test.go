package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metahuman-os/cortex/internal/install"
)

func makeUserRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, install.Marker), []byte("version = 1\n"), 0644); err != nil {
		t.Fatalf("writing marker: %v", err)
	}
	if err := install.EnsureLayout(root); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	return root
}

func TestCreateAndLoad(t *testing.T) {
	root := makeUserRoot(t)

	created, err := Create(root, "alice", "owner")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated user ID")
	}
	if created.Role != "owner" {
		t.Errorf("Role = %q, want owner", created.Role)
	}

	loaded, err := Load(root, "alice")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.ID != created.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, created.ID)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("CreatedAt was not persisted")
	}
}

func TestCreateDefaultRole(t *testing.T) {
	root := makeUserRoot(t)

	user, err := Create(root, "bob", "")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if user.Role != DefaultRole {
		t.Errorf("Role = %q, want %q", user.Role, DefaultRole)
	}
}

func TestCreateProvisionsProfileTree(t *testing.T) {
	root := makeUserRoot(t)

	if _, err := Create(root, "alice", ""); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	paths := ProfilePaths{Root: root, Username: "alice"}
	for _, dir := range []string{
		paths.EpisodicDir(),
		paths.ProceduralDir(),
		paths.CuratedDir(),
		paths.LocksDir(),
		paths.AgentsDir(),
		paths.DaemonDir(),
		paths.LogsDir(),
	} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("missing %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestCreateDuplicate(t *testing.T) {
	root := makeUserRoot(t)

	if _, err := Create(root, "alice", ""); err != nil {
		t.Fatalf("first Create error: %v", err)
	}
	if _, err := Create(root, "alice", ""); err == nil {
		t.Fatal("expected error creating duplicate user")
	}
}

func TestCreateRejectsBadUsername(t *testing.T) {
	root := makeUserRoot(t)

	for _, username := range []string{"", "Alice", "a/b", ".."} {
		if _, err := Create(root, username, ""); err == nil {
			t.Errorf("expected error for username %q", username)
		}
	}
}

func TestLoadUnknownUser(t *testing.T) {
	root := makeUserRoot(t)

	_, err := Load(root, "nobody")
	if !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
}

func TestListOrdersByUsername(t *testing.T) {
	root := makeUserRoot(t)

	for _, username := range []string{"carol", "alice", "bob"} {
		if _, err := Create(root, username, ""); err != nil {
			t.Fatalf("Create(%s) error: %v", username, err)
		}
	}

	// A stray directory without a user record must not break listing.
	if err := os.MkdirAll(filepath.Join(install.UsersDir(root), "broken"), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	users, err := List(root)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}

	var names []string
	for _, u := range users {
		names = append(names, u.Username)
	}
	want := []string{"alice", "bob", "carol"}
	if len(names) != len(want) {
		t.Fatalf("List returned %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestListEmptyInstall(t *testing.T) {
	users, err := List(t.TempDir())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected no users, got %d", len(users))
	}
}
