package main

import (
	"fmt"
	"os"

	"github.com/roasbeef/outreach/cmd/outreach/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCode(err))
	}
}
