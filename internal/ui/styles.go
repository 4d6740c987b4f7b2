package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passColor  = lipgloss.Color("#10B981") // green
	warnColor  = lipgloss.Color("#F59E0B") // amber
	failColor  = lipgloss.Color("#F87171") // red
	mutedColor = lipgloss.Color("#9CA3AF") // gray

	passStyle  = lipgloss.NewStyle().Foreground(passColor)
	warnStyle  = lipgloss.NewStyle().Foreground(warnColor)
	failStyle  = lipgloss.NewStyle().Foreground(failColor)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

var profileOnce sync.Once

// applyColorProfile downgrades lipgloss to plain output when color is off.
// lipgloss renders through termenv, so forcing the Ascii profile strips
// ANSI codes everywhere at once.
func applyColorProfile() {
	profileOnce.Do(func() {
		if !ShouldUseColor() {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	})
}

// RenderPassIcon returns the success marker.
func RenderPassIcon() string {
	applyColorProfile()
	if ShouldUseEmoji() {
		return "✅"
	}
	return passStyle.Render("✓")
}

// RenderWarnIcon returns the warning marker.
func RenderWarnIcon() string {
	applyColorProfile()
	if ShouldUseEmoji() {
		return "⚠️"
	}
	return warnStyle.Render("!")
}

// RenderFailIcon returns the failure marker.
func RenderFailIcon() string {
	applyColorProfile()
	if ShouldUseEmoji() {
		return "❌"
	}
	return failStyle.Render("✗")
}

// RenderMuted renders s in the muted style.
func RenderMuted(s string) string {
	applyColorProfile()
	return mutedStyle.Render(s)
}

// ShortenPath replaces the home directory prefix with ~ for display.
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(filepath.Separator)) {
		return "~" + path[len(home):]
	}
	return path
}

// RelativeTime renders t as a coarse human age like "3m ago".
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := time.Since(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
