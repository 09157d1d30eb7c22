package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"tracesvc/internal/logging"
)

// Cap is the live, hot-reloadable view of MaxTotalBufferMB. Everything
// else in Config is load-on-start only (spec.md §6.5 only calls out the
// admission cap as safe to change without a restart).
type Cap struct {
	mb atomic.Int64
}

// NewCap creates a Cap fixed at initial until Watch (if ever called) starts
// applying bootstrap-file updates.
func NewCap(initial int64) *Cap {
	c := &Cap{}
	c.mb.Store(initial)
	return c
}

// MB returns the current admission cap in megabytes.
func (c *Cap) MB() int64 { return c.mb.Load() }

func (c *Cap) set(mb int64) { c.mb.Store(mb) }

// Watcher reloads a Cap's value from a bootstrap file's MAX_TOTAL_BUFFER_MB
// line whenever the file changes: an fsnotify.Watcher plus a single reload
// goroutine, swapped in place of re-opening a whole store.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *slog.Logger
}

// NewWatcher creates an idle Watcher. Call Watch to start watching a file.
func NewWatcher(logger *slog.Logger) *Watcher {
	return &Watcher{logger: logging.Default(logger).With("component", "config.watcher")}
}

// Watch begins watching path for writes, reloading target's MB value on
// every change. Calling Watch again replaces the previous watch.
func (w *Watcher) Watch(path string, target *Cap) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return fmt.Errorf("config: watch %q: %w", path, err)
	}

	w.watcher = fw
	w.done = make(chan struct{})
	go w.loop(fw, path, target, w.done)
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher, path string, target *Cap, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			kv, err := readBootstrapFile(path)
			if err != nil {
				w.logger.Warn("reload failed", "path", path, "error", err)
				continue
			}
			raw, ok := kv[envMaxTotalBufferMB]
			if !ok {
				continue
			}
			mb, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || mb <= 0 {
				w.logger.Warn("ignoring invalid cap on reload", "path", path, "value", raw)
				continue
			}
			target.set(mb)
			w.logger.Info("reloaded admission cap", "max_total_buffer_mb", mb)
		case _, ok := <-fw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) stopLocked() {
	if w.watcher != nil {
		_ = w.watcher.Close()
		<-w.done
		w.watcher = nil
		w.done = nil
	}
}

// Close stops watching.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}
