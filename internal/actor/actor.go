// Package actor is a small single-writer event loop.
//
// One goroutine owns a value of type S. Every change to S goes through a pure
// reducer that receives the current state and one [Input] and returns the next
// state plus a list of [Effect] values. Effects are plain data; a [Runtime]
// interprets them and reports outcomes back to the mailbox as new inputs.
//
// Inputs are reduced strictly in the order they were accepted by the mailbox,
// which gives callers a total order across producers (network, speech, user).
package actor

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when delivering to an actor whose loop has exited.
var ErrStopped = errors.New("actor: stopped")

// DefaultMailboxSize is the mailbox capacity used when none is configured.
const DefaultMailboxSize = 256

// Input is anything that can be delivered to the mailbox. Embed [InputBase]
// to implement it.
type Input interface {
	actorInput()
}

// Effect is a side effect requested by the reducer. Embed [EffectBase] to
// implement it.
type Effect interface {
	actorEffect()
}

// InputBase implements [Input] when embedded.
type InputBase struct{}

func (InputBase) actorInput() {}

// EffectBase implements [Effect] when embedded.
type EffectBase struct{}

func (EffectBase) actorEffect() {}

// ReducerFunc computes the next state. It must not perform I/O, start
// goroutines, read the clock or generate random values.
type ReducerFunc[S any] func(state S, in Input) (S, []Effect)

// Runtime executes effects on behalf of the loop.
type Runtime interface {
	// HandleEffects is called on the loop goroutine after every reduction
	// that produced effects. Quick effects may run inline and report through
	// emit, which never blocks and drops when the mailbox is full. Anything
	// that blocks must run on its own goroutine and report back with
	// [Actor.Send], which waits for mailbox space.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))
}

// RuntimeFunc adapts a function to [Runtime].
type RuntimeFunc func(ctx context.Context, effects []Effect, emit func(Input))

// HandleEffects implements [Runtime].
func (f RuntimeFunc) HandleEffects(ctx context.Context, effects []Effect, emit func(Input)) {
	f(ctx, effects, emit)
}

// Hooks are optional observers of the loop. All hooks run on the loop
// goroutine.
type Hooks[S any] struct {
	OnInput      func(in Input)
	OnTransition func(prev, next S, in Input)
	OnEffects    func(effects []Effect)

	// OnDrop is called when emit could not enqueue because the mailbox was
	// full. Send never drops.
	OnDrop func(in Input)

	// OnPanic receives a recovered reducer or runtime panic. When nil the
	// panic propagates.
	OnPanic func(recovered any)
}

// Option configures an [Actor].
type Option[S any] func(*Actor[S])

// WithHooks installs observers.
func WithHooks[S any](h Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = h }
}

// WithMailboxSize sets the mailbox capacity. Non-positive values are ignored.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.mailbox = make(chan Input, n)
		}
	}
}

// Actor owns a state value and serialises every change to it.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu    sync.RWMutex
	state S

	mailbox  chan Input
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once
}

// New returns an actor holding initial. The loop does not run until [Actor.Run].
func New[S any](initial S, reduce ReducerFunc[S], rt Runtime, opts ...Option[S]) *Actor[S] {
	a := &Actor[S]{
		reduce:  reduce,
		runtime: rt,
		state:   initial,
		mailbox: make(chan Input, DefaultMailboxSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run processes the mailbox until ctx is cancelled or [Actor.Stop] is called.
// It returns nil on Stop and ctx.Err() on cancellation. Only the first call
// runs the loop; later calls wait for it to finish.
func (a *Actor[S]) Run(ctx context.Context) error {
	var err error
	ran := false
	a.runOnce.Do(func() {
		ran = true
		err = a.loop(ctx)
	})
	if !ran {
		<-a.done
	}
	return err
}

// Stop ends the loop. Inputs still in the mailbox are discarded.
func (a *Actor[S]) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Done is closed once the loop has exited.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// State returns a snapshot of the current state.
func (a *Actor[S]) State() S {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Enqueue delivers in without blocking. It reports false when the mailbox is
// full, the actor is stopped, or in is nil.
func (a *Actor[S]) Enqueue(in Input) bool {
	if in == nil {
		return false
	}
	select {
	case <-a.stop:
		return false
	case <-a.done:
		return false
	default:
	}
	select {
	case a.mailbox <- in:
		return true
	default:
		return false
	}
}

// Send delivers in, waiting for mailbox space until ctx is done or the loop
// exits. It must not be called from the loop goroutine: a full mailbox would
// never drain.
func (a *Actor[S]) Send(ctx context.Context, in Input) error {
	if in == nil {
		return errors.New("actor: nil input")
	}
	select {
	case <-a.stop:
		return ErrStopped
	case <-a.done:
		return ErrStopped
	default:
	}
	select {
	case a.mailbox <- in:
		return nil
	case <-a.stop:
		return ErrStopped
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Actor[S]) loop(ctx context.Context) (err error) {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic == nil {
				panic(r)
			}
			a.hooks.OnPanic(r)
			err = errors.New("actor: loop panicked")
		}
	}()

	emit := func(in Input) {
		if !a.Enqueue(in) && a.hooks.OnDrop != nil {
			a.hooks.OnDrop(in)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stop:
			return nil
		case in := <-a.mailbox:
			a.step(ctx, in, emit)
		}
	}
}

func (a *Actor[S]) step(ctx context.Context, in Input, emit func(Input)) {
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	a.mu.RLock()
	prev := a.state
	a.mu.RUnlock()

	next, effects := a.reduce(prev, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) == 0 {
		return
	}
	if a.hooks.OnEffects != nil {
		a.hooks.OnEffects(effects)
	}
	if a.runtime != nil {
		a.runtime.HandleEffects(ctx, effects, emit)
	}
}
