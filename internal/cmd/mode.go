package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metahuman-os/cortex/internal/install"
	"github.com/metahuman-os/cortex/internal/mode"
	"github.com/metahuman-os/cortex/internal/ui"
)

var modeCmd = &cobra.Command{
	Use:     "mode",
	GroupID: GroupServices,
	Short:   "Show or change the installation mode",
	Long: `Show or change the installation's operating mode.

In headless mode no local agents run; every per-user daemon parks its
agent set until the installation returns to normal. The mode applies to
the whole installation, not to one user.`,
	RunE: runModeShow,
}

var (
	modeSetHeadless bool
	modeSetBy       string
)

var modeSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the installation mode",
	Long: `Set the installation's operating mode.

The daemons react to the change on their own; this command only updates
the mode descriptor.`,
	RunE: runModeSet,
}

func init() {
	modeSetCmd.Flags().BoolVar(&modeSetHeadless, "headless", false, "Target mode; true parks every local agent")
	modeSetCmd.Flags().StringVar(&modeSetBy, "by", "cli", "Who is requesting the change")

	modeCmd.AddCommand(modeSetCmd)
	rootCmd.AddCommand(modeCmd)
}

func modeLabel(headless bool) string {
	if headless {
		return "headless"
	}
	return "normal"
}

func runModeShow(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}

	d, err := mode.Load(install.ModeFile(root))
	if err != nil {
		return fmt.Errorf("reading mode: %w", err)
	}

	fmt.Printf("Mode: %s\n", modeLabel(d.IsHeadless()))
	if d == nil {
		fmt.Printf("  %s\n", ui.RenderMuted("(no mode descriptor yet; normal is the default)"))
		return nil
	}

	if d.LastChangedBy != "" {
		fmt.Printf("  Changed by:  %s (%s)\n", d.LastChangedBy, ui.RelativeTime(d.UpdatedAt))
	}
	if d.ClaimedBy != "" {
		fmt.Printf("  Claimed by:  %s\n", d.ClaimedBy)
	} else {
		fmt.Printf("  Claimed by:  %s\n", ui.RenderMuted("(no daemon has completed the transition yet)"))
	}
	return nil
}

func runModeSet(cmd *cobra.Command, args []string) error {
	if !cmd.Flags().Changed("headless") {
		return fmt.Errorf("specify --headless=true or --headless=false")
	}

	root, err := findRoot()
	if err != nil {
		return err
	}

	d, err := mode.SetHeadless(install.ModeFile(root), modeSetHeadless, modeSetBy)
	if err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}

	fmt.Printf("%s Mode set to %s\n", ui.RenderPassIcon(), modeLabel(d.Headless))
	return nil
}
