package db

import (
	"log/slog"
)

// NewDiscardLogger returns a logger that drops everything, for tools that
// open the database without configuring logging.
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
