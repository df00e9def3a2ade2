package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/yuva/internal/config"
)

const watcherValidYAML = `
log_level: info
session:
  language: en-US
`

const watcherUpdatedYAML = `
log_level: debug
session:
  language: kn-IN
`

const watcherInvalidYAML = `
log_level: bananas
`

// rewrite replaces the file content and pushes its mtime forward so the
// change is seen regardless of filesystem timestamp granularity.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	writeFile(t, path, content)
	mt := time.Now().Add(bump)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	calls []config.Change
	ch    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan struct{}, 8)}
}

func (r *changeRecorder) onChange(c config.Change) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func startWatcher(t *testing.T, path string, rec *changeRecorder) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned %v", err)
		}
	})
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "yuva.yaml")
	writeFile(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().LogLevel; got != config.LogInfo {
		t.Errorf("LogLevel = %q, want info", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "yuva.yaml")
	writeFile(t, path, watcherInvalidYAML)

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "yuva.yaml")
	writeFile(t, path, watcherValidYAML)

	rec := newChangeRecorder()
	w := startWatcher(t, path, rec)

	rewrite(t, path, watcherUpdatedYAML, time.Second)

	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	rec.mu.Lock()
	c := rec.calls[0]
	rec.mu.Unlock()
	if c.Old.LogLevel != config.LogInfo || c.New.LogLevel != config.LogDebug {
		t.Errorf("callback got %q -> %q, want info -> debug", c.Old.LogLevel, c.New.LogLevel)
	}
	if !c.Diff.LogLevelChanged || !c.Diff.LanguageChanged || c.Diff.NewLanguage != "kn-IN" {
		t.Errorf("diff = %+v", c.Diff)
	}
	if got := w.Current().Session.Language; got != "kn-IN" {
		t.Errorf("Current().Session.Language = %q, want kn-IN", got)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "yuva.yaml")
	writeFile(t, path, watcherValidYAML)

	rec := newChangeRecorder()
	w := startWatcher(t, path, rec)

	rewrite(t, path, watcherInvalidYAML, time.Second)
	time.Sleep(100 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange called %d times for invalid edit, want 0", n)
	}
	if got := w.Current().LogLevel; got != config.LogInfo {
		t.Errorf("Current().LogLevel = %q, want info", got)
	}
}

func TestWatcher_TouchWithoutChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "yuva.yaml")
	writeFile(t, path, watcherValidYAML)

	rec := newChangeRecorder()
	startWatcher(t, path, rec)

	rewrite(t, path, watcherValidYAML, time.Second)
	time.Sleep(100 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange called %d times for unchanged content, want 0", n)
	}
}

func TestWatcher_CosmeticEditIgnored(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "yuva.yaml")
	writeFile(t, path, watcherValidYAML)

	rec := newChangeRecorder()
	w := startWatcher(t, path, rec)

	rewrite(t, path, "# tuned by hand\n"+watcherValidYAML+"\n", time.Second)
	time.Sleep(100 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("onChange called %d times for a comment-only edit, want 0", n)
	}

	// A real edit afterwards still comes through, diffed against the
	// adopted config.
	rewrite(t, path, watcherUpdatedYAML, 2*time.Second)
	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}
	if got := w.Current().LogLevel; got != config.LogDebug {
		t.Errorf("Current().LogLevel = %q, want debug", got)
	}
}

func TestWatcher_Stop(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "yuva.yaml")
	writeFile(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
