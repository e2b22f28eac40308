package plugin

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for the plugins directory
// to settle before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Registry when files under its directory change.
// Backend services are not reloaded; only the descriptor set is rebuilt.
type Watcher struct {
	registry *Registry
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onReload func([]*Descriptor)
	logger   *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// OnReload registers a callback run after each reload.
func OnReload(fn func([]*Descriptor)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher creates a watcher over the registry's directory and every
// plugin directory directly below it.
func NewWatcher(r *Registry, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		registry: r,
		fsw:      fsw,
		debounce: DefaultDebounce,
		logger:   r.logger.Named("watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addDirs(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addDirs() error {
	if err := w.fsw.Add(w.registry.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.registry.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			// Already-watched paths are accepted by fsnotify.
			_ = w.fsw.Add(filepath.Join(w.registry.dir, e.Name()))
		}
	}
	return nil
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.fsw.Add(ev.Name)
				}
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			ds, err := w.registry.Load(ctx)
			if err != nil {
				w.logger.Error("reload failed", zap.Error(err))
				continue
			}
			if w.onReload != nil {
				w.onReload(ds)
			}
		}
	}
}
