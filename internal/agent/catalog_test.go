package agent

import (
	"testing"
	"time"

	"github.com/metahuman-os/cortex/internal/config"
)

func TestLookup(t *testing.T) {
	def, ok := Lookup("memory-curator")
	if !ok {
		t.Fatal("memory-curator not in catalog")
	}
	if def.Interval != 30*time.Minute {
		t.Errorf("Interval = %v, want 30m", def.Interval)
	}
	if def.OneShot {
		t.Error("memory-curator should be continuous")
	}

	if _, ok := Lookup("unknown-agent"); ok {
		t.Error("Lookup should miss for unknown names")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	want := []string{"memory-curator", "dream-generator", "question-asker"}
	if len(names) != len(want) {
		t.Fatalf("got %d names, want %d", len(names), len(want))
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("names[%d] = %q, want %q", i, names[i], n)
		}
	}
}

func TestDefaultSet(t *testing.T) {
	tests := []struct {
		name    string
		list    []string
		want    int
		wantErr bool
	}{
		{name: "nil list means whole catalog", list: nil, want: 3},
		{name: "explicit empty list means none", list: []string{}, want: 0},
		{name: "restricted list", list: []string{"question-asker"}, want: 1},
		{name: "unknown name is an error", list: []string{"memory-curator", "typo-agent"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Agents.Default = tt.list

			defs, err := DefaultSet(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DefaultSet error: %v", err)
			}
			if len(defs) != tt.want {
				t.Errorf("got %d definitions, want %d", len(defs), tt.want)
			}
		})
	}
}

func TestDefaultSetNilConfig(t *testing.T) {
	defs, err := DefaultSet(nil)
	if err != nil {
		t.Fatalf("DefaultSet error: %v", err)
	}
	if len(defs) != 3 {
		t.Errorf("got %d definitions, want 3", len(defs))
	}
}
