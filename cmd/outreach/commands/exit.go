package commands

import (
	"errors"

	"github.com/roasbeef/outreach/internal/config"
)

// Process exit codes.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitHalted = 2
	ExitConfig = 3
)

// ErrHalted is returned by commands that find the pipeline halted, so
// scripts can tell a halted pipeline apart from a failure.
var ErrHalted = errors.New("pipeline halted")

// ExitCode maps an error returned by Execute to the process exit code.
// Usage mistakes and runtime failures share ExitError.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK

	case errors.Is(err, ErrHalted):
		return ExitHalted

	case errors.Is(err, config.ErrInvalid):
		return ExitConfig

	default:
		return ExitError
	}
}
