package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config when its file changes and hands
// the result to a callback, debounced.
type Watcher struct {
	path     string
	load     func() (Config, error)
	onChange func(Config)
	onError  func(error)
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	changed  time.Time
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewWatcher watches path. The parent directory is watched so
// that editors replacing the file by rename are seen.
func NewWatcher(
	path string, debounce time.Duration,
	load func() (Config, error), onChange func(Config),
) (*Watcher, error) {
	if load == nil || onChange == nil {
		return nil, fmt.Errorf("load and onChange are required: %w", os.ErrInvalid)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		load:     load,
		onChange: onChange,
		onError:  func(error) {},
		watcher:  fsw,
		debounce: debounce,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// OnError sets the callback for reload and watch errors.
func (w *Watcher) OnError(fn func(error)) {
	if fn != nil {
		w.onError = fn
	}
}

// Start begins processing file events in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop stops the watcher and waits for it to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("config watcher: %w", err))

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.changed = w.now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.changed.IsZero() || w.now().Sub(w.changed) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.changed = time.Time{}
	w.mu.Unlock()

	cfg, err := w.load()
	if err != nil {
		w.onError(fmt.Errorf("reloading %s: %w", w.path, err))
		return
	}
	w.onChange(cfg)
}
