// Package cmd provides CLI commands for the cortex tool.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "cortex",
	Short:   "Cortex - personal AI agent supervisor",
	Version: Version,
	Long: `Cortex coordinates the background agents of a personal AI installation.

It supervises per-user agent processes, arbitrates exclusive agent slots
through file-based locks, and parks or restores the whole agent set as
the installation moves between normal and headless operation.`,
}

// userFlag is the persistent --user flag. Empty means fall back to
// CORTEX_USER, then to default_user in cortex.toml.
var userFlag string

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		// Errors already printed by cobra
		return 1
	}
	return 0
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupAgents   = "agents"
	GroupServices = "services"
	GroupAdmin    = "admin"
	GroupDiag     = "diag"
)

func init() {
	// Enable prefix matching for subcommands (e.g., "cortex dae st" -> "cortex daemon start")
	cobra.EnablePrefixMatching = true

	// Define command groups (order determines help output order)
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupAgents, Title: "Agent Management:"},
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupAdmin, Title: "Installation:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)

	// Put help and completion in a sensible group
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupAdmin)

	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "",
		"User profile to operate on (default: $CORTEX_USER, then default_user from cortex.toml)")
}

// buildCommandPath walks the command hierarchy to build the full command path.
// For example: "cortex daemon start", "cortex mode set", etc.
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns a RunE function for parent commands that require
// a subcommand. Without this, Cobra silently shows help and exits 0 for
// unknown subcommands like "cortex user foobar", masking errors.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
