// Package app wires the YUVA subsystems into a running client.
//
// New builds every collaborator from the config, Run drives the session
// actor and its supporting goroutines until the context ends or the user
// powers down, and Shutdown stops a running App from another goroutine.
//
// For testing, inject fakes via functional options (WithDialer,
// WithTokenStore, WithSpeech and so on). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/yuva/internal/actor"
	"github.com/MrWong99/yuva/internal/auth"
	"github.com/MrWong99/yuva/internal/config"
	"github.com/MrWong99/yuva/internal/conn"
	"github.com/MrWong99/yuva/internal/cue"
	"github.com/MrWong99/yuva/internal/health"
	"github.com/MrWong99/yuva/internal/observe"
	"github.com/MrWong99/yuva/internal/session"
	"github.com/MrWong99/yuva/internal/speech"
	"github.com/MrWong99/yuva/internal/tokenstore"
	"github.com/MrWong99/yuva/internal/transcript"
)

// ErrNotRunning is returned by the UI methods once the session loop has
// stopped.
var ErrNotRunning = errors.New("app: not running")

// App owns every subsystem of a running client.
type App struct {
	cfg *config.Config

	tokens     tokenstore.Store
	gateway    *auth.Gateway
	speech     speech.Adapter
	cues       cue.Emitter
	dialer     conn.Dialer
	metrics    *observe.Metrics
	registry   *config.Registry
	logLevel   *slog.LevelVar
	configPath string
	now        func() time.Time

	transcript *transcript.Store
	player     *speech.Player
	capturer   *speech.Capturer
	rt         *runtime
	actor      *actor.Actor[session.State]
	diag       *health.Server
	watcher    *config.Watcher

	mu        sync.Mutex
	listeners []func(session.State)
	cancel    context.CancelFunc
	stopped   bool

	exited   chan struct{}
	exitOnce sync.Once
	runDone  chan struct{}
	runOnce  sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTokenStore injects the credential store instead of the file store.
func WithTokenStore(s tokenstore.Store) Option {
	return func(a *App) { a.tokens = s }
}

// WithGateway injects an auth gateway instead of building one from the config.
func WithGateway(g *auth.Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithSpeech injects a speech adapter instead of using the registry.
func WithSpeech(s speech.Adapter) Option {
	return func(a *App) { a.speech = s }
}

// WithCues injects the cue emitter. The default rings the terminal bell on
// stderr.
func WithCues(c cue.Emitter) Option {
	return func(a *App) { a.cues = c }
}

// WithDialer injects the realtime channel dialer.
func WithDialer(d conn.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics injects metric instruments instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry replaces [config.DefaultRegistry] for speech adapter lookup.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogLevel lets hot reloads adjust the process log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithConfigWatcher reloads path while running and applies live settings.
func WithConfigWatcher(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Nothing runs until [App.Run].
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		exited:  make(chan struct{}),
		runDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initDefaults(); err != nil {
		return nil, err
	}

	a.transcript = transcript.NewStore()
	a.player = speech.NewPlayer(a.speech, speech.WithPlayerHooks(speech.PlayerHooks{
		OnStart:  func(u speech.Utterance) { a.deliver(session.EvPlaybackStarted{ID: u.ID}) },
		OnFinish: func(u speech.Utterance) { a.deliver(session.EvPlaybackFinished{ID: u.ID}) },
	}))
	a.capturer = speech.NewCapturer(a.speech, speech.CaptureHooks{
		OnStart:  func(id uint64) { a.deliver(session.EvCaptureStarted{ID: id}) },
		OnResult: func(id uint64, text string) { a.deliver(session.EvCaptureResult{ID: id, Text: text}) },
		OnEnd:    func(id uint64) { a.deliver(session.EvCaptureEnded{ID: id}) },
	})

	a.rt = &runtime{
		gateway:    a.gateway,
		tokens:     a.tokens,
		transcript: a.transcript,
		cues:       a.cues,
		player:     a.player,
		capturer:   a.capturer,
		metrics:    a.metrics,
		now:        a.now,
		exit:       a.exit,
		deliver:    a.deliver,
		sends:      make(chan outbound, sendQueueSize),
		timers:     make(map[*time.Timer]struct{}),
		channel: conn.Config{
			URL:            cfg.Backend.WSURL,
			ReconnectDelay: cfg.Backend.ReconnectDelay,
			Dialer:         a.dialer,
			Metrics:        a.metrics,
		},
	}

	initial := session.New(cfg.Session.Language, cfg.Session.Quantum.Session(), cfg.Session.Timing())
	a.actor = actor.New(initial, session.Reduce, a.rt, actor.WithHooks(actor.Hooks[session.State]{
		OnTransition: a.onTransition,
		OnDrop: func(in actor.Input) {
			slog.Warn("app: session mailbox full, input dropped", "input", fmt.Sprintf("%T", in))
		},
	}))

	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}
	if err := a.initDiagnostics(); err != nil {
		return nil, fmt.Errorf("app: init diagnostics: %w", err)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initDefaults() error {
	if a.now == nil {
		a.now = time.Now
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.cues == nil {
		a.cues = cue.NewTerminal(os.Stderr)
	}
	if a.dialer == nil {
		a.dialer = conn.WebSocketDialer{}
	}
	if a.tokens == nil {
		path := a.cfg.Storage.TokenPath
		if path == "" {
			p, err := tokenstore.DefaultPath()
			if err != nil {
				return fmt.Errorf("app: %w", err)
			}
			path = p
		}
		a.tokens = tokenstore.NewFile(path)
	}
	if a.gateway == nil {
		g, err := auth.New(a.cfg.Backend.HTTPURL,
			auth.WithTimeout(a.cfg.Backend.AuthTimeout),
			auth.WithMetrics(a.metrics),
		)
		if err != nil {
			return fmt.Errorf("app: init auth gateway: %w", err)
		}
		a.gateway = g
	}
	if a.speech == nil {
		reg := a.registry
		if reg == nil {
			reg = config.DefaultRegistry()
		}
		s, err := reg.CreateSpeech(a.cfg.Speech)
		if err != nil {
			return fmt.Errorf("app: init speech: %w", err)
		}
		a.speech = s
	}
	slog.Debug("app: subsystems configured", "speech", a.speech.Name(), "ws_url", a.cfg.Backend.WSURL)
	return nil
}

// initDiagnostics binds the diagnostics listener when an address is set.
func (a *App) initDiagnostics() error {
	if a.cfg.Diagnostics.ListenAddr == "" {
		return nil
	}
	h := health.New(
		health.Checker{Name: "session", Check: func(context.Context) error {
			select {
			case <-a.actor.Done():
				return errors.New("session loop stopped")
			default:
			}
			if a.Snapshot().Halted {
				return errors.New("session halted")
			}
			return nil
		}},
		health.Checker{Name: "channel", Check: func(context.Context) error {
			if !a.Snapshot().ChannelOpen {
				return conn.ErrChannelUnavailable
			}
			return nil
		}},
	)
	s, err := health.NewServer(a.cfg.Diagnostics.ListenAddr, h, health.WithObserveMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.diag = s
	return nil
}

func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.applyConfig)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// applyConfig pushes hot-reloadable settings into the running session.
func (a *App) applyConfig(c config.Change) {
	d := c.Diff
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", string(d.NewLogLevel))
	}
	if d.LanguageChanged {
		a.deliver(session.CmdSetLanguage{Code: d.NewLanguage})
	}
	if d.QuantumChanged {
		a.deliver(session.CmdSetQuantum{Quantum: d.NewQuantum.Session()})
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run boots the session and blocks until ctx is cancelled, [App.Shutdown] is
// called, or the user completes a shutdown. It returns nil in all three cases.
func (a *App) Run(ctx context.Context) error {
	ran := false
	var runErr error
	a.runOnce.Do(func() {
		ran = true
		runErr = a.run(ctx)
	})
	if !ran {
		return errors.New("app: Run called twice")
	}
	return runErr
}

func (a *App) run(ctx context.Context) error {
	defer close(a.runDone)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.cancel = cancel
	if a.stopped {
		cancel()
	}
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.actor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: session loop: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.player.Run(gctx) })
	g.Go(func() error { return a.rt.sendLoop(gctx) })
	if a.diag != nil {
		g.Go(func() error { return a.diag.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-a.exited:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := a.actor.Send(gctx, session.CmdStart{}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("app: boot", "err", err)
	}
	slog.Info("app: running", "speech", a.speech.Name())

	err := g.Wait()
	a.rt.shutdown()
	slog.Info("app: stopped")
	return err
}

// Shutdown stops a running App and waits for Run to return or ctx to expire.
// A Run that has not started yet returns as soon as it does.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-a.runDone:
		return nil
	case <-ctx.Done():
		slog.Warn("app: shutdown deadline exceeded")
		return ctx.Err()
	}
}

// Exited is closed once the user has completed a shutdown sequence.
func (a *App) Exited() <-chan struct{} { return a.exited }

func (a *App) exit() {
	a.exitOnce.Do(func() { close(a.exited) })
}

// ─── Session access ──────────────────────────────────────────────────────────

// Snapshot returns the current session state.
func (a *App) Snapshot() session.State { return a.actor.State() }

// Transcript returns every transcript entry in order.
func (a *App) Transcript() []transcript.Entry { return a.transcript.Entries() }

// OnTranscript registers l for every appended entry.
func (a *App) OnTranscript(l transcript.Listener) { a.transcript.Subscribe(l) }

// OnChange registers fn for every state change. It runs on the session
// goroutine and must not block.
func (a *App) OnChange(fn func(session.State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *App) onTransition(prev, next session.State, _ actor.Input) {
	if prev.Status != next.Status {
		a.metrics.RecordStatus(context.Background(), string(next.Status))
	}
	if prev.Phase != next.Phase {
		a.metrics.RecordPhase(context.Background(), string(next.Phase))
		slog.Debug("app: phase", "from", string(prev.Phase), "to", string(next.Phase))
	}
	if prev == next {
		return
	}
	a.mu.Lock()
	ls := append([]func(session.State)(nil), a.listeners...)
	a.mu.Unlock()
	for _, fn := range ls {
		fn(next)
	}
}

// deliver posts an input from a goroutine other than the session loop. It
// waits for mailbox space and gives up only once the loop has exited.
func (a *App) deliver(in actor.Input) {
	if err := a.actor.Send(context.Background(), in); err != nil {
		slog.Debug("app: input not delivered", "input", fmt.Sprintf("%T", in), "err", err)
	}
}

func (a *App) send(ctx context.Context, in actor.Input) error {
	if err := a.actor.Send(ctx, in); err != nil {
		if errors.Is(err, actor.ErrStopped) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

// ─── UI commands ─────────────────────────────────────────────────────────────

// Login submits credentials from the login view.
func (a *App) Login(ctx context.Context, username, password string) error {
	return a.send(ctx, session.CmdLogin{Username: username, Password: password})
}

// Register submits the registration form. On success the session signs in
// with the same credentials.
func (a *App) Register(ctx context.Context, username, email, password string) error {
	return a.send(ctx, session.CmdRegister{Username: username, Email: email, Password: password})
}

// Subscribe picks a plan on the upsell view.
func (a *App) Subscribe(ctx context.Context, plan auth.Plan) error {
	return a.send(ctx, session.CmdSubscribe{Plan: plan})
}

// SkipUpsell continues on the FREE plan.
func (a *App) SkipUpsell(ctx context.Context) error {
	return a.send(ctx, session.CmdSkipUpsell{})
}

// ShowView switches between the login and registration forms.
func (a *App) ShowView(ctx context.Context, v session.View) error {
	return a.send(ctx, session.CmdShowView{View: v})
}

// Logout ends the authenticated session and forgets the stored token.
func (a *App) Logout(ctx context.Context) error {
	return a.send(ctx, session.CmdLogout{})
}

// Submit sends a typed command.
func (a *App) Submit(ctx context.Context, text string) error {
	return a.send(ctx, session.CmdSubmit{Text: text})
}

// ToggleListening starts or stops local speech capture.
func (a *App) ToggleListening(ctx context.Context) error {
	return a.send(ctx, session.CmdToggleListening{})
}

// RequestListen asks the backend to listen on its own microphone.
func (a *App) RequestListen(ctx context.Context) error {
	return a.send(ctx, session.CmdRequestBackendListen{})
}

// StartPassive enables backend passive listening.
func (a *App) StartPassive(ctx context.Context) error {
	return a.send(ctx, session.CmdStartPassive{})
}

// StopPassive disables backend passive listening.
func (a *App) StopPassive(ctx context.Context) error {
	return a.send(ctx, session.CmdStopPassive{})
}

// Power starts a shutdown or restart sequence.
func (a *App) Power(ctx context.Context, kind session.PowerKind) error {
	return a.send(ctx, session.CmdPower{Kind: kind})
}

// SetLanguage changes the speech locale. Unsupported codes are rejected.
func (a *App) SetLanguage(ctx context.Context, code string) error {
	if !speech.IsSupported(code) {
		return fmt.Errorf("app: unsupported language %q", code)
	}
	return a.send(ctx, session.CmdSetLanguage{Code: code})
}

// SetQuantum replaces the quantum settings.
func (a *App) SetQuantum(ctx context.Context, q session.Quantum) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return a.send(ctx, session.CmdSetQuantum{Quantum: q})
}

// TestVoice speaks a calibration phrase.
func (a *App) TestVoice(ctx context.Context) error {
	return a.send(ctx, session.CmdTestVoice{})
}
