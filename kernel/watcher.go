// ABOUTME: Debounced filesystem watcher that auto-reloads the harness on script change.
// ABOUTME: Grounded on haasonsaas-nexus's internal/skills Manager fsnotify/debounce-timer pattern.

package kernel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is the default coalescing window for rapid successive
// writes, per spec.md §4.8 ("debounced 200 ms").
const WatchDebounce = 200 * time.Millisecond

// Watcher watches a directory and invokes onChange, debounced, whenever
// a file inside it is created, written, removed, or renamed.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func()
	logger   *slog.Logger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a Watcher on dir. Call Run to start watching.
func NewWatcher(dir string, onChange func(), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fsw:      fsw,
		onChange: onChange,
		logger:   logger.With("component", "kernel.watcher"),
		debounce: WatchDebounce,
	}, nil
}

// Run drains filesystem events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	_ = w.fsw.Close()
}
