package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is how many rotated files are kept.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the rotation threshold in megabytes.
	DefaultMaxLogFileSize = 20

	// DefaultLogFilename is the daemon's log file name.
	DefaultLogFilename = "outreachd.log"
)

// LogRotatorConfig configures the rotating log file.
type LogRotatorConfig struct {
	LogDir string

	// MaxLogFiles is the number of rotated files kept. Zero keeps a
	// single file that grows without bound.
	MaxLogFiles int

	// MaxLogFileSize is the rotation threshold in megabytes.
	MaxLogFileSize int

	// Filename defaults to DefaultLogFilename.
	Filename string
}

// DefaultLogRotatorConfig returns the defaults for logDir.
func DefaultLogRotatorConfig(logDir string) LogRotatorConfig {
	return LogRotatorConfig{
		LogDir:         logDir,
		MaxLogFiles:    DefaultMaxLogFiles,
		MaxLogFileSize: DefaultMaxLogFileSize,
		Filename:       DefaultLogFilename,
	}
}

// RotatingLogWriter is an io.WriteCloser backed by a gzip-compressing
// jrick/logrotate rotator running on its own goroutine.
type RotatingLogWriter struct {
	pipe *io.PipeWriter
	done chan struct{}

	closeOnce sync.Once
}

// OpenRotatingLog creates the log directory and starts the rotator.
func OpenRotatingLog(cfg LogRotatorConfig) (*RotatingLogWriter, error) {
	filename := cfg.Filename
	if filename == "" {
		filename = DefaultLogFilename
	}
	if cfg.MaxLogFileSize <= 0 {
		cfg.MaxLogFileSize = DefaultMaxLogFileSize
	}

	logFile := filepath.Join(cfg.LogDir, filename)
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// The rotator takes its threshold in kilobytes.
	r, err := rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false,
		cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}
	r.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	w := &RotatingLogWriter{
		pipe: pw,
		done: make(chan struct{}),
	}

	go func() {
		defer close(w.done)

		// The rotator is the log destination, so its own failure can
		// only go to stderr.
		if err := r.Run(pr); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotator stopped: "+
				"%v\n", err)
		}
	}()

	return w, nil
}

// Write implements io.Writer.
func (w *RotatingLogWriter) Write(b []byte) (int, error) {
	return w.pipe.Write(b)
}

// Close flushes pending output and waits for the rotator to exit.
func (w *RotatingLogWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.pipe.Close()
		<-w.done
	})

	return err
}
