package commands

import (
	"fmt"

	"github.com/roasbeef/outreach/internal/build"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display the version, commit hash, and build metadata for outreach.`,
	Run:   runVersion,
}

// runVersion prints the version and build information.
func runVersion(cmd *cobra.Command, args []string) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "outreach version %s", build.Version())

	if commit := build.CommitHash(); commit != "" {
		fmt.Fprintf(w, " commit=%s", commit)
	}

	if goVersion := build.GoVersion(); goVersion != "" {
		fmt.Fprintf(w, " go=%s", goVersion)
	}

	if tags := build.Tags(); len(tags) > 0 {
		fmt.Fprintf(w, " tags=%s", build.RawTags)
	}

	fmt.Fprintln(w)
}
