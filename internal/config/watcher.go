package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a file and reloads it when its content changes. It is
// generic so the same loop serves the main config and the sound catalog.
//
// Change detection compares the modification time first and the SHA-256 of
// the content second, so a touch without edits does not reload. A file that
// fails to load is logged and the previous value stays current.
type Watcher[T any] struct {
	path     string
	interval time.Duration
	load     func([]byte) (T, error)
	onChange func(old, new T)

	mu        sync.Mutex
	current   T
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*watcherOptions)

type watcherOptions struct {
	interval time.Duration
}

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(o *watcherOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// NewWatcher loads path once and starts polling. The initial load must
// succeed. onChange may be nil.
func NewWatcher[T any](path string, load func([]byte) (T, error), onChange func(old, new T), opts ...WatcherOption) (*Watcher[T], error) {
	o := watcherOptions{interval: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	w := &Watcher[T]{
		path:     path,
		interval: o.interval,
		load:     load,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	v, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.lastHash, w.lastMtime = v, hash, mtime

	w.wg.Add(1)
	go w.poll()
	return w, nil
}

// NewConfigWatcher watches a config file.
func NewConfigWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher[*Config], error) {
	return NewWatcher(path, Parse, onChange, opts...)
}

// Current returns the last successfully loaded value.
func (w *Watcher[T]) Current() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-progress check to finish.
func (w *Watcher[T]) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher[T]) poll() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher[T]) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	v, hash, mtime, err := w.read()
	if err != nil {
		slog.Warn("config: watcher reload failed, keeping previous", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.lastHash, w.lastMtime = v, hash, mtime
	w.mu.Unlock()

	slog.Info("config: file reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, v)
	}
}

func (w *Watcher[T]) read() (T, [sha256.Size]byte, time.Time, error) {
	var zero T
	info, err := os.Stat(w.path)
	if err != nil {
		return zero, [sha256.Size]byte{}, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return zero, [sha256.Size]byte{}, time.Time{}, err
	}
	v, err := w.load(data)
	if err != nil {
		return zero, [sha256.Size]byte{}, time.Time{}, err
	}
	return v, sha256.Sum256(data), info.ModTime(), nil
}
