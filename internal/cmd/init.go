package cmd

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metahuman-os/cortex/internal/audit"
	"github.com/metahuman-os/cortex/internal/config"
	"github.com/metahuman-os/cortex/internal/identity"
	"github.com/metahuman-os/cortex/internal/install"
	"github.com/metahuman-os/cortex/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	GroupID: GroupAdmin,
	Short:   "Initialize a cortex installation",
	Long: `Initialize a cortex installation.

Creates the installation layout (state/, users/), writes cortex.toml, and
provisions the first user profile. The first user becomes the config's
default_user. The target directory defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// currentUsername guesses a username for the first profile from the OS
// account. Windows accounts come qualified as DOMAIN\name.
func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		name := u.Username
		if i := strings.LastIndexAny(name, `\/`); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	return os.Getenv("USER")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	if install.IsInstallRoot(root) {
		return fmt.Errorf("%s is already a cortex installation", root)
	}

	username := userFlag
	if username == "" {
		username = currentUsername()
	}
	if username == "" {
		return fmt.Errorf("cannot determine a username for the first profile (pass --user)")
	}

	if err := install.EnsureLayout(root); err != nil {
		return err
	}
	if err := config.WriteDefault(install.ConfigFile(root), username); err != nil {
		return err
	}

	newUser, err := identity.Create(root, username, "owner")
	if err != nil {
		return fmt.Errorf("creating first user: %w", err)
	}

	paths := identity.ProfilePaths{Root: root, Username: newUser.Username}
	_ = audit.NewLogger(paths.AuditLog()).Info(audit.CategoryUser, "user.created", "cli", map[string]any{
		"user": newUser.Username,
		"role": newUser.Role,
	})

	fmt.Printf("%s Initialized cortex installation at %s\n", ui.RenderPassIcon(), ui.ShortenPath(root))
	fmt.Println()
	fmt.Printf("  User:    %s (role %s)\n", newUser.Username, newUser.Role)
	fmt.Printf("  Config:  %s\n", ui.ShortenPath(install.ConfigFile(root)))
	fmt.Println()
	fmt.Printf("  Start the daemon with: %s\n", ui.RenderMuted("cortex daemon start"))
	return nil
}
