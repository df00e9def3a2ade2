// Package conn owns the realtime channel to the backend.
//
// A [Manager] keeps exactly one channel open at a time. When the channel
// closes, for whatever reason, the manager waits a fixed delay and dials a
// brand-new one; it never gives up and never backs off. On every successful
// dial the manager immediately sends the "start" envelope so the backend
// enables passive listening.
//
// Inbound frames are decoded with [protocol.Decode] and handed to
// [Handler.OnEvent] strictly in arrival order. Frames that fail to decode are
// logged and dropped without closing the channel; frames of an unknown type
// are ignored.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/yuva/internal/observe"
	"github.com/MrWong99/yuva/internal/protocol"
)

// DefaultReconnectDelay is the fixed wait between a closure and the next dial.
const DefaultReconnectDelay = 3 * time.Second

// DefaultDialTimeout bounds a single dial attempt.
const DefaultDialTimeout = 10 * time.Second

// ErrChannelUnavailable is returned by [Manager.Send] when no channel is open.
var ErrChannelUnavailable = errors.New("conn: channel unavailable")

// ErrClosed is returned by [Manager.Run] when the manager was already closed.
var ErrClosed = errors.New("conn: manager closed")

// Channel is one live connection. Read blocks until a frame arrives, the
// channel closes or ctx is done.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer opens new channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context, url string) (Channel, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, url string) (Channel, error) { return f(ctx, url) }

// Handler receives channel lifecycle and inbound events. Callbacks run on the
// manager's goroutine and must not block for long.
type Handler struct {
	// OnOpen is called after the start envelope was sent.
	OnOpen func()

	// OnClose is called when an open channel ends. Failed dials do not
	// trigger it.
	OnClose func(err error)

	// OnEvent is called for every decoded inbound frame of a known type.
	OnEvent func(ev protocol.Event)
}

// ReadyState is the lifecycle of the current channel.
type ReadyState int

const (
	Closed ReadyState = iota
	Connecting
	Open
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// State is a snapshot of the manager.
type State struct {
	ReadyState ReadyState

	// ReconnectAttempt counts reconnects scheduled since the manager started.
	ReconnectAttempt int

	// Dials counts channel handles created so far.
	Dials int
}

// Config configures a [Manager].
type Config struct {
	// URL is the realtime endpoint, e.g. ws://localhost:8000/ws.
	URL string

	// ReconnectDelay defaults to [DefaultReconnectDelay].
	ReconnectDelay time.Duration

	// DialTimeout defaults to [DefaultDialTimeout].
	DialTimeout time.Duration

	// Dialer defaults to [WebSocketDialer].
	Dialer Dialer

	Handler Handler

	// Metrics may be nil.
	Metrics *observe.Metrics

	// After replaces [time.After] in tests.
	After func(time.Duration) <-chan time.Time
}

// Manager is the Connection Manager. It is safe for concurrent use.
type Manager struct {
	url         string
	delay       time.Duration
	dialTimeout time.Duration
	dialer      Dialer
	handler     Handler
	metrics     *observe.Metrics
	after       func(time.Duration) <-chan time.Time

	mu    sync.Mutex
	ch    Channel
	state State

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager returns a manager for cfg. It does not dial until [Manager.Run].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, errors.New("conn: URL is required")
	}
	m := &Manager{
		url:         cfg.URL,
		delay:       cfg.ReconnectDelay,
		dialTimeout: cfg.DialTimeout,
		dialer:      cfg.Dialer,
		handler:     cfg.Handler,
		metrics:     cfg.Metrics,
		after:       cfg.After,
		done:        make(chan struct{}),
	}
	if m.delay <= 0 {
		m.delay = DefaultReconnectDelay
	}
	if m.dialTimeout <= 0 {
		m.dialTimeout = DefaultDialTimeout
	}
	if m.dialer == nil {
		m.dialer = WebSocketDialer{}
	}
	if m.after == nil {
		m.after = time.After
	}
	return m, nil
}

// Run dials, serves and redials until ctx is done or [Manager.Close] is
// called. It returns nil after Close and ctx.Err() on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	for {
		m.setReady(Connecting)
		ch, err := m.dial(ctx)
		if err == nil {
			m.serve(ctx, ch)
		} else if !m.stopping(ctx) {
			slog.Warn("conn: dial failed", "url", m.url, "err", err)
		}
		m.setReady(Closed)

		if m.stopping(ctx) {
			return m.exitErr(ctx)
		}

		m.mu.Lock()
		m.state.ReconnectAttempt++
		attempt := m.state.ReconnectAttempt
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ReconnectAttempts.Add(ctx, 1)
		}
		slog.Info("conn: reconnect scheduled", "attempt", attempt, "delay", m.delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-m.after(m.delay):
		}
	}
}

// Send encodes o and writes it to the open channel. Without an open channel
// it returns [ErrChannelUnavailable] and nothing is queued.
func (m *Manager) Send(ctx context.Context, o protocol.Outbound) error {
	m.mu.Lock()
	ch := m.ch
	open := m.state.ReadyState == Open
	m.mu.Unlock()
	if ch == nil || !open {
		return ErrChannelUnavailable
	}
	return m.write(ctx, ch, o)
}

// State returns a snapshot of the manager.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOpen reports whether a channel is open.
func (m *Manager) IsOpen() bool { return m.State().ReadyState == Open }

// Close stops reconnecting and closes the live channel. Safe to call more
// than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	ch := m.ch
	m.ch = nil
	m.mu.Unlock()
	if ch != nil {
		return ch.Close()
	}
	return nil
}

func (m *Manager) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Manager) exitErr(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	default:
		return ctx.Err()
	}
}

func (m *Manager) setReady(s ReadyState) {
	m.mu.Lock()
	prev := m.state.ReadyState
	m.state.ReadyState = s
	m.mu.Unlock()

	if m.metrics == nil || prev == s {
		return
	}
	if s == Open {
		m.metrics.ChannelOpen.Add(context.Background(), 1)
	} else if prev == Open {
		m.metrics.ChannelOpen.Add(context.Background(), -1)
	}
}

func (m *Manager) dial(ctx context.Context) (Channel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	ch, err := m.dialer.Dial(dialCtx, m.url)
	if err != nil {
		return nil, fmt.Errorf("conn: dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	m.state.Dials++
	closed := false
	select {
	case <-m.done:
		closed = true
	default:
		m.ch = ch
	}
	m.mu.Unlock()

	if closed {
		_ = ch.Close()
		return nil, ErrClosed
	}
	return ch, nil
}

// serve runs one channel from open to close.
func (m *Manager) serve(ctx context.Context, ch Channel) {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-readCtx.Done():
		}
	}()

	defer func() {
		m.mu.Lock()
		if m.ch == ch {
			m.ch = nil
		}
		m.mu.Unlock()
		_ = ch.Close()
	}()

	if err := m.write(readCtx, ch, protocol.Start()); err != nil {
		slog.Warn("conn: start envelope failed", "err", err)
		return
	}
	m.setReady(Open)
	slog.Info("conn: channel open", "url", m.url)
	if m.handler.OnOpen != nil {
		m.handler.OnOpen()
	}

	err := m.readLoop(readCtx, ch)
	m.setReady(Closed)
	if !m.stopping(ctx) {
		slog.Info("conn: channel closed", "err", err)
	}
	if m.handler.OnClose != nil {
		m.handler.OnClose(err)
	}
}

func (m *Manager) readLoop(ctx context.Context, ch Channel) error {
	for {
		frame, err := ch.Read(ctx)
		if err != nil {
			return err
		}
		ev, err := protocol.Decode(frame)
		if err != nil {
			slog.Warn("conn: dropping frame", "len", len(frame), "err", err)
			if m.metrics != nil {
				m.metrics.DecodeErrors.Add(ctx, 1)
			}
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordFrameIn(ctx, string(ev.EventType()))
		}
		if u, ok := ev.(protocol.Unknown); ok {
			slog.Debug("conn: ignoring unknown frame type", "type", u.Type)
			continue
		}
		if m.handler.OnEvent != nil {
			m.handler.OnEvent(ev)
		}
	}
}

func (m *Manager) write(ctx context.Context, ch Channel, o protocol.Outbound) error {
	frame, err := protocol.Encode(o)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := ch.Write(ctx, frame); err != nil {
		return fmt.Errorf("conn: write %s: %w", o.Action, err)
	}
	if m.metrics != nil {
		m.metrics.RecordFrameOut(ctx, string(o.Action))
	}
	return nil
}
