// Package mock provides a recording [cue.Emitter] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/yuva/internal/cue"
)

var _ cue.Emitter = (*Emitter)(nil)

// Emitter records every cue it is asked to play. It is safe for concurrent
// use.
type Emitter struct {
	mu sync.Mutex

	// PlayError is returned by every Play call.
	PlayError error

	played []cue.Name
}

// Play implements [cue.Emitter].
func (e *Emitter) Play(_ context.Context, n cue.Name) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.played = append(e.played, n)
	return e.PlayError
}

// Played returns a copy of the cues played so far.
func (e *Emitter) Played() []cue.Name {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]cue.Name, len(e.played))
	copy(out, e.played)
	return out
}

// Reset clears the recorded cues.
func (e *Emitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.played = nil
}
