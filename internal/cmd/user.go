package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metahuman-os/cortex/internal/audit"
	"github.com/metahuman-os/cortex/internal/identity"
	"github.com/metahuman-os/cortex/internal/ui"
)

var userCmd = &cobra.Command{
	Use:     "user",
	GroupID: GroupAdmin,
	Short:   "Manage user profiles",
	RunE:    requireSubcommand,
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a user profile",
	Long: `Create a user profile under the installation.

Provisions the full profile tree (memory stores, locks, registry, logs)
and writes the identity record.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

var userAddRole string

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user profiles",
	RunE:  runUserList,
}

func init() {
	userAddCmd.Flags().StringVar(&userAddRole, "role", "", "Role for the new user (default: member)")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}

	user, err := identity.Create(root, args[0], userAddRole)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	paths := identity.ProfilePaths{Root: root, Username: user.Username}
	_ = audit.NewLogger(paths.AuditLog()).Info(audit.CategoryUser, "user.created", "cli", map[string]any{
		"user": user.Username,
		"role": user.Role,
	})

	fmt.Printf("%s Created user %s (role %s)\n", ui.RenderPassIcon(), user.Username, user.Role)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}

	users, err := identity.List(root)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	if len(users) == 0 {
		fmt.Printf("No users yet. Create one with %s\n", ui.RenderMuted("cortex user add <name>"))
		return nil
	}

	tbl := ui.NewTable(
		ui.Column{Name: "USERNAME", Width: 20},
		ui.Column{Name: "ROLE", Width: 10},
		ui.Column{Name: "CREATED", Width: 14},
	)
	for _, u := range users {
		tbl.AddRow(u.Username, u.Role, ui.RelativeTime(u.CreatedAt))
	}
	fmt.Print(tbl.Render())
	return nil
}
