package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/yuva/internal/actor"
	"github.com/MrWong99/yuva/internal/auth"
	"github.com/MrWong99/yuva/internal/conn"
	"github.com/MrWong99/yuva/internal/cue"
	"github.com/MrWong99/yuva/internal/observe"
	"github.com/MrWong99/yuva/internal/protocol"
	"github.com/MrWong99/yuva/internal/session"
	"github.com/MrWong99/yuva/internal/speech"
	"github.com/MrWong99/yuva/internal/tokenstore"
	"github.com/MrWong99/yuva/internal/transcript"
)

const sendQueueSize = 64

// outbound is one send queue entry. Frames go to the manager that was current
// when they were queued. An entry with run set writes nothing; run is called
// once every earlier entry is done.
type outbound struct {
	manager *conn.Manager
	frame   protocol.Outbound
	run     func()
}

// runtime interprets session effects. HandleEffects runs on the actor loop;
// anything that touches the network or disk is handed to a goroutine that
// reports back through deliver.
type runtime struct {
	gateway    *auth.Gateway
	tokens     tokenstore.Store
	transcript *transcript.Store
	cues       cue.Emitter
	player     *speech.Player
	capturer   *speech.Capturer
	metrics    *observe.Metrics
	now        func() time.Time
	exit       func()

	channel conn.Config

	// deliver posts inputs from goroutines outside the loop and blocks while
	// the mailbox is full. The loop itself only uses emit.
	deliver func(actor.Input)

	sends chan outbound

	mu        sync.Mutex
	manager   *conn.Manager
	channelID uint64
	timers    map[*time.Timer]struct{}
	closed    bool

	wg sync.WaitGroup
}

var _ actor.Runtime = (*runtime)(nil)

func (r *runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, e := range effects {
		r.handle(ctx, e, emit)
	}
}

func (r *runtime) handle(ctx context.Context, e actor.Effect, emit func(actor.Input)) {
	switch e := e.(type) {
	case session.EffCue:
		if err := r.cues.Play(ctx, e.Name); err != nil {
			slog.Warn("app: cue failed", "cue", string(e.Name), "err", err)
		}

	case session.EffAppend:
		r.transcript.Append(e.Role, e.Text, e.IsCommand)
		r.metrics.RecordTranscriptEntry(ctx, string(e.Role))

	case session.EffResetTranscript:
		r.transcript.Reset()

	case session.EffSend:
		select {
		case r.sends <- outbound{manager: r.currentManager(), frame: e.Frame}:
		default:
			emit(session.EvSendFailed{Err: errors.New("app: send queue full")})
		}

	case session.EffSpeak:
		u := speech.Utterance{
			ID:       uuid.NewString(),
			Text:     e.Text,
			Language: e.Language,
			Pitch:    e.Pitch,
		}
		if !r.player.Enqueue(u) {
			slog.Warn("app: playback queue full, dropping utterance", "utterance", u.ID)
		}

	case session.EffStartCapture:
		r.capturer.Start(ctx, e.ID, e.Language)

	case session.EffStopCapture:
		r.capturer.Stop()

	case session.EffLogin:
		r.async(func() {
			token, p, err := r.gateway.Login(ctx, e.Username, e.Password)
			if err != nil {
				r.deliver(session.EvAuthFailed{Op: session.OpLogin, Err: err})
				return
			}
			r.deliver(session.EvAuthSucceeded{Op: session.OpLogin, Token: token, Profile: p})
		})

	case session.EffRegister:
		r.async(func() {
			if err := r.gateway.Register(ctx, e.Username, e.Email, e.Password); err != nil {
				r.deliver(session.EvAuthFailed{Op: session.OpRegister, Err: err})
				return
			}
			r.deliver(session.EvRegistered{Username: e.Username, Password: e.Password})
		})

	case session.EffSubscribe:
		r.async(func() {
			p, err := r.gateway.Subscribe(ctx, e.Token, e.Plan)
			if err != nil {
				r.deliver(session.EvAuthFailed{Op: session.OpSubscribe, Err: err})
				return
			}
			r.deliver(session.EvAuthSucceeded{Op: session.OpSubscribe, Token: e.Token, Profile: p})
		})

	case session.EffValidateToken:
		r.async(func() {
			p, err := r.gateway.Profile(ctx, e.Token)
			if err != nil {
				r.deliver(session.EvAuthFailed{Op: session.OpValidate, Err: err})
				return
			}
			r.deliver(session.EvAuthSucceeded{Op: session.OpValidate, Token: e.Token, Profile: p})
		})

	case session.EffLoadToken:
		r.async(func() { r.deliver(r.loadToken()) })

	case session.EffPersistToken:
		r.async(func() {
			if err := r.tokens.Save(e.Token); err != nil {
				slog.Warn("app: persist token", "err", err)
			}
		})

	case session.EffClearToken:
		r.async(func() {
			if err := r.tokens.Clear(); err != nil {
				slog.Warn("app: clear token", "err", err)
			}
		})

	case session.EffOpenChannel:
		r.openChannel(ctx)

	case session.EffCloseChannel:
		r.closeChannel()

	case session.EffSchedule:
		r.schedule(e.After, func() { r.deliver(e.Input) })

	case session.EffExit:
		// Frames queued by the power sequence go out before the process stops.
		if r.exit != nil {
			r.after(r.exit)
		}

	default:
		slog.Debug("app: unhandled effect", "effect", e)
	}
}

func (r *runtime) loadToken() session.EvStoredToken {
	tok, err := r.tokens.Load()
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			slog.Warn("app: load token", "err", err)
		}
		return session.EvStoredToken{}
	}
	ev := session.EvStoredToken{Token: tok}
	if exp, ok := auth.TokenExpiry(tok); ok && !r.now().Before(exp) {
		ev.Expired = true
	}
	return ev
}

// openChannel starts a fresh manager. Callbacks from a manager that has since
// been closed are discarded so a late close never masks a newer channel.
func (r *runtime) openChannel(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.manager != nil {
		return
	}
	r.channelID++
	id := r.channelID

	current := func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.channelID == id && r.manager != nil
	}
	cfg := r.channel
	cfg.Handler = conn.Handler{
		OnOpen: func() {
			if current() {
				r.deliver(session.EvChannelOpened{})
			}
		},
		OnClose: func(err error) {
			if current() {
				r.deliver(session.EvChannelClosed{})
			}
		},
		OnEvent: func(ev protocol.Event) {
			if current() {
				r.deliver(session.EvBackend{Event: ev})
			}
		},
	}
	m, err := conn.NewManager(cfg)
	if err != nil {
		slog.Error("app: create connection manager", "err", err)
		return
	}
	r.manager = m

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("app: connection manager stopped", "err", err)
		}
	}()
}

// closeChannel detaches the current manager at once and closes it once the
// frames queued ahead of it have been written.
func (r *runtime) closeChannel() {
	if m := r.detach(); m != nil {
		r.after(func() { closeManager(m) })
	}
}

// after runs fn behind the frames already queued, or at once when the queue
// is full.
func (r *runtime) after(fn func()) {
	select {
	case r.sends <- outbound{run: fn}:
	default:
		fn()
	}
}

func (r *runtime) detach() *conn.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.manager
	r.manager = nil
	r.channelID++
	return m
}

func closeManager(m *conn.Manager) {
	if err := m.Close(); err != nil {
		slog.Debug("app: close channel", "err", err)
	}
}

func (r *runtime) currentManager() *conn.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manager
}

// sendLoop writes queued frames in order.
func (r *runtime) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-r.sends:
			r.write(ctx, o)
		}
	}
}

func (r *runtime) write(ctx context.Context, o outbound) {
	switch {
	case o.run != nil:
		o.run()
	case o.manager == nil:
		r.deliver(session.EvSendFailed{Err: conn.ErrChannelUnavailable})
	default:
		if err := o.manager.Send(ctx, o.frame); err != nil {
			slog.Warn("app: send failed", "action", string(o.frame.Action), "err", err)
			r.deliver(session.EvSendFailed{Err: err})
		}
	}
}

func (r *runtime) schedule(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		_, live := r.timers[t]
		delete(r.timers, t)
		r.mu.Unlock()
		if live {
			fn()
		}
	})
	r.timers[t] = struct{}{}
}

func (r *runtime) async(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// shutdown stops timers, capture and the channel, then waits for every
// goroutine the runtime started.
func (r *runtime) shutdown() {
	r.mu.Lock()
	r.closed = true
	for t := range r.timers {
		t.Stop()
		delete(r.timers, t)
	}
	r.mu.Unlock()

	r.capturer.Stop()
	if m := r.detach(); m != nil {
		closeManager(m)
	}
	r.drainSends()
	r.wg.Wait()
	r.capturer.Wait()
}

// drainSends discards unsent frames and runs the deferred entries still
// waiting on the queue.
func (r *runtime) drainSends() {
	for {
		select {
		case o := <-r.sends:
			if o.run != nil {
				o.run()
			}
		default:
			return
		}
	}
}
