package commands

import (
	"context"
	"fmt"

	"github.com/roasbeef/outreach/internal/target"
	"github.com/spf13/cobra"
)

var blocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "Manage recipients that must never be contacted",
	Long: `Add, remove and list blocked recipient handles. Handles are
normalised: a leading "@" is stripped and case is ignored. The daemon
reloads the list at the start of every cycle.`,
}

var blocklistAddCmd = &cobra.Command{
	Use:   "add <handle>...",
	Short: "Block one or more handles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editBlocklist(cmd, args, (*target.Blocklist).Add,
			"Blocked", "Already blocked")
	},
}

var blocklistRemoveCmd = &cobra.Command{
	Use:   "remove <handle>...",
	Short: "Unblock one or more handles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editBlocklist(cmd, args, (*target.Blocklist).Remove,
			"Unblocked", "Not blocked")
	},
}

var blocklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked handles",
	Args:  cobra.NoArgs,
	RunE:  runBlocklistList,
}

func init() {
	blocklistCmd.AddCommand(blocklistAddCmd)
	blocklistCmd.AddCommand(blocklistRemoveCmd)
	blocklistCmd.AddCommand(blocklistListCmd)
}

// blocklistEdit is Blocklist.Add or Blocklist.Remove.
type blocklistEdit func(*target.Blocklist, context.Context, string) (bool,
	error)

func editBlocklist(cmd *cobra.Command, handles []string, edit blocklistEdit,
	changedMsg, unchangedMsg string) error {

	ctx := context.Background()

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	list := target.NewBlocklist(e.repo)
	if err := list.Load(ctx); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, handle := range handles {
		changed, err := edit(list, ctx, handle)
		if err != nil {
			return fmt.Errorf("%s: %w", handle, err)
		}

		msg := unchangedMsg
		if changed {
			msg = changedMsg
		}
		fmt.Fprintf(w, "%s: %s\n", msg, target.NormalizeHandle(handle))
	}

	return nil
}

func runBlocklistList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	list := target.NewBlocklist(e.repo)
	if err := list.Load(ctx); err != nil {
		return err
	}

	handles := list.List()
	if outputFormat == "json" {
		if handles == nil {
			handles = []string{}
		}

		return outputJSON(cmd.OutOrStdout(), handles)
	}

	if len(handles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No blocked handles.")
		return nil
	}
	for _, h := range handles {
		fmt.Fprintln(cmd.OutOrStdout(), h)
	}

	return nil
}
