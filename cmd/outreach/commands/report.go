package commands

import (
	"context"
	"errors"

	"github.com/roasbeef/outreach/internal/report"
	"github.com/spf13/cobra"
)

// reportDays is the window size in calendar days.
var reportDays int

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise outreach over the last days",
	Long: `Summarise dispatches over a window of calendar days ending today:
outcomes, sends per kind and per account, error classes, the halt state
and the monthly API budget.

Use --format markdown or --format html for a shareable report.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().IntVar(
		&reportDays, "days", 7, "Number of days to cover, today included",
	)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if reportDays < 1 {
		return errors.New("--days must be at least 1")
	}

	format, err := outputFormatFlag()
	if err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := e.buildReport(ctx, reportDays)
	if err != nil {
		return err
	}

	return report.Render(cmd.OutOrStdout(), r, format)
}
