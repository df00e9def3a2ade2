// Package mock provides an in-memory [conn.Dialer] and [conn.Channel] for
// unit tests.
package mock

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/MrWong99/yuva/internal/conn"
)

// ErrDropped is returned by Read after [Channel.Drop].
var ErrDropped = errors.New("mock: channel dropped by peer")

var (
	_ conn.Dialer  = (*Dialer)(nil)
	_ conn.Channel = (*Channel)(nil)
)

// Dialer hands out a fresh [Channel] on every Dial. It is safe for concurrent
// use.
type Dialer struct {
	mu sync.Mutex

	// DialError, when set, is returned by every Dial.
	DialError error

	channels []*Channel
	urls     []string
	dialed   chan *Channel
}

// NewDialer returns a ready Dialer.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Channel, 64)}
}

// Dial implements [conn.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string) (conn.Channel, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	if d.DialError != nil {
		err := d.DialError
		d.mu.Unlock()
		return nil, err
	}
	ch := NewChannel()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()

	select {
	case d.dialed <- ch:
	default:
	}
	return ch, nil
}

// SetDialError changes the error returned by Dial.
func (d *Dialer) SetDialError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialError = err
}

// Next waits for the next successfully dialed channel.
func (d *Dialer) Next(ctx context.Context) (*Channel, error) {
	select {
	case ch := <-d.dialed:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dials returns the number of Dial calls, failed ones included.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns the URLs passed to Dial.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// OpenChannels counts dialed channels that have not been closed or dropped.
func (d *Dialer) OpenChannels() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ch := range d.channels {
		if !ch.Closed() {
			n++
		}
	}
	return n
}

// Channel is a scripted connection.
type Channel struct {
	inbound chan []byte
	closed  chan struct{}
	dropped chan struct{}

	closeOnce sync.Once
	dropOnce  sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

// NewChannel returns an open channel.
func NewChannel() *Channel {
	return &Channel{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
		dropped: make(chan struct{}),
	}
}

// Push queues an inbound frame.
func (c *Channel) Push(frame []byte) { c.inbound <- frame }

// Drop simulates the peer closing the connection.
func (c *Channel) Drop() { c.dropOnce.Do(func() { close(c.dropped) }) }

// SetWriteError makes subsequent writes fail.
func (c *Channel) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Read implements [conn.Channel]. Queued frames are delivered before a drop
// is reported.
func (c *Channel) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	default:
	}
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.closed:
		return nil, net.ErrClosed
	case <-c.dropped:
		return nil, ErrDropped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements [conn.Channel].
func (c *Channel) Write(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.written = append(c.written, append([]byte(nil), frame...))
	return nil
}

// Close implements [conn.Channel].
func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether the channel was closed or dropped.
func (c *Channel) Closed() bool {
	select {
	case <-c.closed:
		return true
	case <-c.dropped:
		return true
	default:
		return false
	}
}

// Written returns copies of every frame written so far.
func (c *Channel) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, f := range c.written {
		out[i] = string(f)
	}
	return out
}
