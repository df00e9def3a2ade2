// Package cue emits short audio cues that accompany session events.
//
// Cues are identified by symbolic [Name]s. How a cue sounds is up to the
// [Emitter]; waveform synthesis is out of scope for this client, so the
// built-in [Terminal] emitter rings the terminal bell for attention-seeking
// cues and logs the rest.
package cue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Name identifies a cue.
type Name string

const (
	Boot        Name = "boot"
	Click       Name = "click"
	Alert       Name = "alert"
	Shutter     Name = "shutter"
	Shutdown    Name = "shutdown"
	AuthSuccess Name = "auth_success"
	AuthFail    Name = "auth_fail"
	Sent        Name = "sent"
	Process     Name = "process"
	Success     Name = "success"
	Coin        Name = "coin"
)

var known = map[Name]bool{
	Boot: true, Click: true, Alert: true, Shutter: true, Shutdown: true,
	AuthSuccess: true, AuthFail: true, Sent: true, Process: true,
	Success: true, Coin: true,
}

// Known reports whether n is one of the defined cues.
func Known(n Name) bool { return known[n] }

// Emitter plays cues. Play must return quickly and must be safe for
// concurrent use.
type Emitter interface {
	Play(ctx context.Context, n Name) error
}

// Silent discards every cue.
type Silent struct{}

// Play implements [Emitter].
func (Silent) Play(context.Context, Name) error { return nil }

// Terminal writes a BEL character to w for cues that demand attention and
// logs every cue at debug level.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Emitter = (*Terminal)(nil)

// NewTerminal returns a Terminal writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

// Play implements [Emitter].
func (t *Terminal) Play(ctx context.Context, n Name) error {
	if !Known(n) {
		return fmt.Errorf("cue: unknown cue %q", n)
	}
	slog.DebugContext(ctx, "cue: play", "cue", string(n))
	if !rings(n) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.w, "\a"); err != nil {
		return fmt.Errorf("cue: write bell: %w", err)
	}
	return nil
}

func rings(n Name) bool {
	switch n {
	case Boot, Alert, AuthFail, Shutdown:
		return true
	}
	return false
}
