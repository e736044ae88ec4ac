package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/roasbeef/outreach/internal/report"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show halt state, API budget and today's activity",
	Long: `Display the emergency halt state, the monthly API budget and a
summary of today's dispatches.

Exits with status 2 while the pipeline is halted.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	haltColor    = color.New(color.FgRed, color.Bold)
	reducedColor = color.New(color.FgYellow)
	runningColor = color.New(color.FgGreen)
)

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := outputFormatFlag()
	if err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := e.buildReport(ctx, 1)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if format == report.FormatText {
		printBanner(w, r.Halt)
	}
	if err := report.Render(w, r, format); err != nil {
		return err
	}

	if r.Halt.Halted {
		return fmt.Errorf("%w: %s", ErrHalted, r.Halt.Reason)
	}

	return nil
}

// printBanner writes the colored one-line halt status.
func printBanner(w io.Writer, h report.Halt) {
	c := runningColor
	switch {
	case h.Halted:
		c = haltColor

	case h.ResumeCyclesRemaining > 0:
		c = reducedColor
	}

	c.Fprintln(w, report.HaltBanner(h))
}
