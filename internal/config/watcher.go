package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the file.
const DefaultWatchInterval = 5 * time.Second

// Change is one accepted edit of the config file.
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher polls the client config file and reports edits that change the
// effective configuration. Edits that fail validation are logged and the
// previous config stays current. Reformatting or comment-only edits are
// adopted silently.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(Change)

	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	current *Config
	seen    fileStamp
}

// fileStamp identifies one version of the file. Size and mtime let a poll
// skip the read; sum catches rewrites that keep both.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a Watcher for it. apply runs on the
// polling goroutine for every accepted change. Polling starts with
// [Watcher.Run].
func NewWatcher(path string, apply func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		apply:    apply,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.seen = stamp
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done or [Watcher.Stop] is called. It always returns
// nil so it can sit in an errgroup without cancelling its siblings.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-ticker.C:
			if c, ok := w.poll(); ok && w.apply != nil {
				w.apply(c)
			}
		}
	}
}

// Stop ends [Watcher.Run]. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// poll reports a change when the file now holds a valid config that differs
// from the current one.
func (w *Watcher) poll() (Change, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat watched file", "path", w.path, "err", err)
		return Change{}, false
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) && info.Size() == seen.size {
		return Change{}, false
	}

	cfg, stamp, err := w.read()
	if err != nil {
		slog.Warn("config: edit rejected, keeping previous settings", "path", w.path, "err", err)
		return Change{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = stamp
	if stamp.sum == seen.sum {
		return Change{}, false
	}
	d := Diff(w.current, cfg)
	old := w.current
	w.current = cfg
	if d.Empty() {
		slog.Debug("config: file rewritten without effective change", "path", w.path)
		return Change{}, false
	}
	slog.Info("config: reloaded", "path", w.path, "changed", d.Changed())
	return Change{Old: old, New: cfg, Diff: d}, true
}

func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
