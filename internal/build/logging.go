package build

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrUnknownLevel is returned for log levels btclog does not know.
var ErrUnknownLevel = errors.New("unknown log level")

// Logging owns the process log output: the console and, optionally, the
// rotating log file.
type Logging struct {
	handler *HandlerSet
	file    *RotatingLogWriter
}

// NewLogging writes to console and, when file is set, to a rotating log.
func NewLogging(console io.Writer,
	file fn.Option[LogRotatorConfig]) (*Logging, error) {

	handlers := []btclogv2.Handler{btclogv2.NewDefaultHandler(console)}

	l := &Logging{}
	var openErr error
	file.WhenSome(func(cfg LogRotatorConfig) {
		w, err := OpenRotatingLog(cfg)
		if err != nil {
			openErr = err
			return
		}
		l.file = w
		handlers = append(handlers, btclogv2.NewDefaultHandler(w))
	})
	if openErr != nil {
		return nil, openErr
	}

	l.handler = NewHandlerSet(handlers...)

	return l, nil
}

// SetLevel parses and applies a level such as "debug" or "info".
func (l *Logging) SetLevel(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	l.handler.SetLevel(lvl)

	return nil
}

// Logger returns the logger for one subsystem tag.
func (l *Logging) Logger(subsystem string) btclogv2.Logger {
	return btclogv2.NewSLogger(l.handler.SubSystem(subsystem))
}

// Slog returns a standard library logger for components that take one.
func (l *Logging) Slog(subsystem string) *slog.Logger {
	return slog.New(l.handler.SubSystem(subsystem))
}

// Close flushes and closes the log file, if any.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}

	return l.file.Close()
}
