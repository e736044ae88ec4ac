package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roasbeef/outreach/internal/report"
	"github.com/spf13/cobra"
)

// haltSource is recorded with halts requested from the CLI.
var haltSource string

var haltCmd = &cobra.Command{
	Use:   "halt <reason>",
	Short: "Stop all outbound actions",
	Long: `Write the emergency halt sentinel. The daemon stops before its next
action and stays stopped until "outreach resume" is run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHalt,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear the emergency halt",
	Long: `Clear the halt sentinel. The next cycles run at reduced volume
before normal operation resumes.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	haltCmd.Flags().StringVar(
		&haltSource, "source", "operator",
		"Who or what requested the halt",
	)
}

func runHalt(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	reason := strings.TrimSpace(strings.Join(args, " "))
	if reason == "" {
		return errors.New("a halt reason is required")
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	super, err := e.supervisor()
	if err != nil {
		return err
	}

	state, err := super.Halt(ctx, reason, haltSource)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(cmd.OutOrStdout(), state)
	}

	haltColor.Fprintln(cmd.OutOrStdout(), report.HaltBanner(report.Halt{
		Halted: true,
		Reason: state.Reason,
	}))
	fmt.Fprintf(cmd.OutOrStdout(), "Sentinel written to %s\n",
		state.Location)

	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	super, err := e.supervisor()
	if err != nil {
		return err
	}

	resumed, err := super.Resume(ctx)
	if err != nil {
		return err
	}

	state, err := super.State(ctx)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(cmd.OutOrStdout(), map[string]any{
			"resumed": resumed,
			"state":   state,
		})
	}

	w := cmd.OutOrStdout()
	if !resumed {
		fmt.Fprintln(w, "Not halted, nothing to resume.")
		return nil
	}

	reducedColor.Fprintf(w, "Halt cleared. The next %d cycle(s) run at "+
		"reduced volume.\n", state.ResumeCyclesRemaining)

	return nil
}
