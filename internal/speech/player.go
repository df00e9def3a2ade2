package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 32

// PlayerHooks are called from the playback goroutine.
type PlayerHooks struct {
	OnStart  func(u Utterance)
	OnFinish func(u Utterance)
}

// PlayerOption configures a [Player].
type PlayerOption func(*Player)

// WithPlayerHooks installs playback callbacks.
func WithPlayerHooks(h PlayerHooks) PlayerOption {
	return func(p *Player) { p.hooks = h }
}

// WithQueueSize sets how many utterances may wait for playback.
func WithQueueSize(n int) PlayerOption {
	return func(p *Player) {
		if n > 0 {
			p.queue = make(chan Utterance, n)
		}
	}
}

// Player plays utterances one after another.
//
// OnStart is only called once the synthesizer has accepted the utterance;
// OnFinish follows every OnStart exactly once. When the synthesizer reports
// [ErrUnavailable] neither hook fires.
type Player struct {
	synth Synthesizer
	hooks PlayerHooks
	queue chan Utterance

	mu      sync.Mutex
	current context.CancelFunc
}

// NewPlayer returns a Player backed by synth.
func NewPlayer(synth Synthesizer, opts ...PlayerOption) *Player {
	p := &Player{
		synth: synth,
		queue: make(chan Utterance, defaultQueueSize),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enqueue schedules u for playback. It never blocks and reports false when
// the queue is full.
func (p *Player) Enqueue(u Utterance) bool {
	select {
	case p.queue <- u:
		return true
	default:
		return false
	}
}

// Run plays queued utterances until ctx is done.
func (p *Player) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-p.queue:
			p.play(ctx, u)
		}
	}
}

// Skip aborts the utterance that is currently playing, if any.
func (p *Player) Skip() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current()
	}
}

func (p *Player) play(ctx context.Context, u Utterance) {
	playCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.current = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
		cancel()
	}()

	var (
		once    sync.Once
		started atomic.Bool
	)
	err := p.synth.Speak(playCtx, u, func() {
		once.Do(func() {
			started.Store(true)
			if p.hooks.OnStart != nil {
				p.hooks.OnStart(u)
			}
		})
	})
	switch {
	case errors.Is(err, ErrUnavailable):
		slog.Debug("speech: playback unavailable", "utterance", u.ID)
	case err != nil && !errors.Is(err, context.Canceled):
		slog.Warn("speech: playback failed", "utterance", u.ID, "err", err)
	}
	if started.Load() && p.hooks.OnFinish != nil {
		p.hooks.OnFinish(u)
	}
}
