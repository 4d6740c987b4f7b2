//go:build unix

package ui

import (
	"testing"
	"time"
)

func TestShortenPath(t *testing.T) {
	t.Setenv("HOME", "/home/alice")

	tests := []struct {
		path string
		want string
	}{
		{"/home/alice", "~"},
		{"/home/alice/cortex", "~/cortex"},
		{"/home/alicebob/cortex", "/home/alicebob/cortex"},
		{"/var/lib/cortex", "/var/lib/cortex"},
	}
	for _, tt := range tests {
		if got := ShortenPath(tt.path); got != tt.want {
			t.Errorf("ShortenPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "never"},
		{"now", now, "just now"},
		{"seconds", now.Add(-30 * time.Second), "30s ago"},
		{"minutes", now.Add(-3 * time.Minute), "3m ago"},
		{"hours", now.Add(-5 * time.Hour), "5h ago"},
		{"days", now.Add(-49 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := RelativeTime(tt.t); got != tt.want {
			t.Errorf("%s: RelativeTime = %q, want %q", tt.name, got, tt.want)
		}
	}
}
