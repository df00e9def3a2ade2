package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// CaptureHooks are called from the capture goroutine, in the order OnStart,
// OnResult (only when something was heard), OnEnd. Each call carries the id
// passed to [Capturer.Start], so a listener can tell a superseded capture
// from the current one. Hooks may block; nothing on the caller's side waits
// for them.
type CaptureHooks struct {
	OnStart  func(id uint64)
	OnResult func(id uint64, text string)
	OnEnd    func(id uint64)
}

// Capturer runs recognitions. Starting a new one cancels the previous one
// without waiting for it to wind down.
type Capturer struct {
	rec   Recognizer
	hooks CaptureHooks

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	wg sync.WaitGroup
}

// NewCapturer returns a Capturer backed by rec.
func NewCapturer(rec Recognizer, hooks CaptureHooks) *Capturer {
	return &Capturer{rec: rec, hooks: hooks}
}

// Start begins recognition id in language. A recognition already in progress
// is cancelled first. When the recognizer is unavailable only OnEnd fires, so
// callers can reset any state they set optimistically.
func (c *Capturer) Start(ctx context.Context, id uint64, language string) {
	c.Stop()

	capCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel()
		c.run(capCtx, id, language)
	}()
}

// Stop cancels the recognition in progress. It returns immediately; OnEnd
// follows once the recognizer has returned.
func (c *Capturer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every started recognition has delivered OnEnd.
func (c *Capturer) Wait() { c.wg.Wait() }

// Active reports whether the most recent recognition is in progress.
func (c *Capturer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Capturer) run(ctx context.Context, id uint64, language string) {
	defer func() {
		if c.hooks.OnEnd != nil {
			c.hooks.OnEnd(id)
		}
	}()

	// An absent engine never reports a start.
	if u, ok := c.rec.(interface{ Available() bool }); ok && !u.Available() {
		slog.Debug("speech: capture unavailable")
		return
	}

	if c.hooks.OnStart != nil {
		c.hooks.OnStart(id)
	}
	text, err := c.rec.Recognize(ctx, language)
	switch {
	case errors.Is(err, ErrUnavailable):
		slog.Debug("speech: capture unavailable")
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		slog.Warn("speech: capture failed", "language", language, "err", err)
		return
	}
	text = strings.TrimSpace(text)
	if ctx.Err() != nil {
		return
	}
	if text != "" && c.hooks.OnResult != nil {
		c.hooks.OnResult(id, text)
	}
}
