package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
)

// DefaultReloadDebounce coalesces the burst of events an editor produces
// when saving.
const DefaultReloadDebounce = 500 * time.Millisecond

// Loader reads and validates the configuration, including any command
// line overrides the process applies on top of the file.
type Loader func() (*Config, error)

// Watcher reloads the configuration file whenever it changes and hands
// each valid result to a callback. A file that fails to parse or validate
// is logged and ignored, so the last good configuration stays in force.
type Watcher struct {
	path     string
	debounce time.Duration
	load     Loader
	onReload func(*Config)

	watcher *fsnotify.Watcher

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewWatcher creates a watcher for the file at path. onReload runs on the
// watcher goroutine.
func NewWatcher(path string, debounce time.Duration, load Loader,
	onReload func(*Config)) (*Watcher, error) {

	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		load:     load,
		onReload: onReload,
		watcher:  fw,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory. Editors usually replace the file
// rather than write it in place, so the file itself is not watched.
func (w *Watcher) Start(ctx context.Context) error {
	var startErr error
	w.startOnce.Do(func() {
		if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
			startErr = err
			close(w.done)

			return
		}

		log.InfoS(ctx, "Watching configuration file", "path", w.path)

		go w.run(ctx)
	})

	return startErr
}

// Stop ends the watch and waits for the goroutine to exit.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.quit)

		started := true
		w.startOnce.Do(func() {
			started = false
		})
		if started {
			<-w.done
		}

		err = w.watcher.Close()
	})

	return err
}

// Reload reads the file now. It returns the load error, if any, after
// logging it; the callback only ever sees a valid configuration.
func (w *Watcher) Reload(ctx context.Context) error {
	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		// Loading now would silently fall back to the defaults.
		log.WarnS(ctx, "Configuration file missing, keeping the "+
			"current configuration", nil, "path", w.path)

		return err
	}

	cfg, err := w.load()
	if err != nil {
		log.WarnS(ctx, "Configuration reload rejected, keeping the "+
			"current configuration", err, "path", w.path)

		return err
	}

	log.InfoS(ctx, "Configuration reloaded", "path", w.path)

	w.onReload(cfg)

	return nil
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Rename) {

		return false
	}

	return filepath.Clean(event.Name) == w.path
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.quit:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WarnS(ctx, "Configuration watcher error", err)

		case <-timerCh:
			timerCh = nil
			_ = w.Reload(ctx)
		}
	}
}

// restartOnly lists the settings a running daemon cannot swap in place.
var restartOnly = []struct {
	name string
	get  func(*Config) any
}{
	{"platform", func(c *Config) any { return c.Platform }},
	{"timezone", func(c *Config) any { return c.Timezone }},
	{"db_path", func(c *Config) any { return c.DBPath }},
	{"halt_sentinel_path", func(c *Config) any { return c.HaltSentinelPath }},
	{"admin_addr", func(c *Config) any { return c.AdminAddr }},
	{"driver", func(c *Config) any { return c.Driver }},
	{"log", func(c *Config) any { return c.Log }},
	{"queue", func(c *Config) any { return c.Queue }},
	{"recorder", func(c *Config) any { return c.Recorder }},
	{"executor", func(c *Config) any { return c.Executor }},
	{"health", func(c *Config) any { return c.Health }},
	{"monthly_budget.limit", func(c *Config) any {
		return c.MonthlyBudget.Limit
	}},
}

// RestartRequired names the settings that differ between old and next but
// only take effect after a restart.
func RestartRequired(old, next *Config) []string {
	var changed []string
	for _, s := range restartOnly {
		if !cmp.Equal(s.get(old), s.get(next)) {
			changed = append(changed, s.name)
		}
	}

	return changed
}
