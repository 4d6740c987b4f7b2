package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/metahuman-os/cortex/internal/config"
)

func TestWithScopeRoundtrip(t *testing.T) {
	scope := &Scope{
		User: &User{ID: "u-1", Username: "alice", Role: "owner"},
		Root: "/srv/cortex",
	}

	ctx := WithScope(context.Background(), scope)
	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext returned nil")
	}
	if got.User.Username != "alice" || got.Root != "/srv/cortex" {
		t.Errorf("unexpected scope: %+v", got)
	}
}

func TestFromContextAbsent(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("expected nil scope from bare context")
	}
}

func TestRequireAbsent(t *testing.T) {
	_, err := Require(context.Background())
	if !errors.Is(err, ErrNoActiveUser) {
		t.Errorf("expected ErrNoActiveUser, got %v", err)
	}
}

func TestPathsRequiresScope(t *testing.T) {
	_, err := Paths(context.Background())
	if !errors.Is(err, ErrNoActiveUser) {
		t.Fatalf("expected ErrNoActiveUser, got %v", err)
	}

	ctx := WithScope(context.Background(), &Scope{
		User: &User{Username: "alice"},
		Root: "/srv/cortex",
	})
	paths, err := Paths(ctx)
	if err != nil {
		t.Fatalf("Paths error: %v", err)
	}
	if paths.Username != "alice" || paths.Root != "/srv/cortex" {
		t.Errorf("unexpected paths: %+v", paths)
	}
}

func TestRunScopedConfinesScope(t *testing.T) {
	base := context.Background()
	scope := &Scope{User: &User{Username: "alice"}, Root: "/srv/cortex"}

	var seen string
	err := RunScoped(base, scope, func(ctx context.Context) error {
		s, err := Require(ctx)
		if err != nil {
			return err
		}
		seen = s.User.Username
		return nil
	})
	if err != nil {
		t.Fatalf("RunScoped error: %v", err)
	}
	if seen != "alice" {
		t.Errorf("fn saw %q, want alice", seen)
	}

	// The caller's context is untouched after the call returns.
	if FromContext(base) != nil {
		t.Error("scope leaked into parent context")
	}
}

// Two goroutines carrying different user scopes must never observe each
// other's identity, no matter how their execution interleaves.
func TestScopeIsolationAcrossGoroutines(t *testing.T) {
	base := context.Background()
	var wg sync.WaitGroup

	for _, username := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(username string) {
			defer wg.Done()
			ctx := WithScope(base, &Scope{
				User: &User{Username: username},
				Root: "/srv/cortex",
			})
			for i := 0; i < 50; i++ {
				scope, err := Require(ctx)
				if err != nil {
					t.Errorf("Require error: %v", err)
					return
				}
				if scope.User.Username != username {
					t.Errorf("scope leaked: got %q, want %q", scope.User.Username, username)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(username)
	}
	wg.Wait()
}

func TestFromEnv(t *testing.T) {
	root := makeUserRoot(t)
	if _, err := Create(root, "carol", ""); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	t.Setenv(config.EnvRoot, root)
	t.Setenv(config.EnvUser, "carol")

	scope, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if scope.User.Username != "carol" {
		t.Errorf("Username = %q, want carol", scope.User.Username)
	}
	if scope.Root != root {
		t.Errorf("Root = %q, want %q", scope.Root, root)
	}
}

func TestFromEnvMissing(t *testing.T) {
	t.Setenv(config.EnvRoot, "")
	t.Setenv(config.EnvUser, "")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error when spawn env is absent")
	}
}
