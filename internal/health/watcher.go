package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of events from one atomic write.
const DefaultDebounce = 200 * time.Millisecond

// Watcher observes a file halt store and calls a handler whenever the
// sentinel or the resume token changes, so a sleeping loop can react to a
// halt written by another process.
type Watcher struct {
	store    *FileHaltStore
	debounce time.Duration
	onChange func()

	watcher *fsnotify.Watcher

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewWatcher creates a watcher for store. onChange runs on the watcher
// goroutine.
func NewWatcher(store *FileHaltStore, debounce time.Duration,
	onChange func()) (*Watcher, error) {

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		store:    store,
		debounce: debounce,
		onChange: onChange,
		watcher:  fw,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the sentinel's directory, creating it if needed.
func (w *Watcher) Start(ctx context.Context) error {
	var startErr error
	w.startOnce.Do(func() {
		dir := filepath.Dir(w.store.Path())
		if err := os.MkdirAll(dir, 0o700); err != nil {
			startErr = err
		} else if err := w.watcher.Add(dir); err != nil {
			startErr = err
		}
		if startErr != nil {
			close(w.done)
			return
		}

		log.InfoS(ctx, "Watching halt sentinel", "path", w.store.Path())

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

// relevant reports whether an event touches the sentinel or its token.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {

		return false
	}

	name := filepath.Clean(event.Name)

	return name == filepath.Clean(w.store.Path()) ||
		name == filepath.Clean(w.store.ResumePath())
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

			log.TraceS(ctx, "Halt sentinel event",
				"path", event.Name, "op", event.Op.String())

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
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				log.WarnS(ctx, "Halt watcher error", err)
				continue
			}

			// Events were lost; let the handler re-read state.
			w.onChange()

		case <-timerCh:
			timerCh = nil
			w.onChange()
		}
	}
}
