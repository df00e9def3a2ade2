package conn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// defaultReadLimit caps a single inbound frame.
const defaultReadLimit = 1 << 20

// WebSocketDialer dials the backend with coder/websocket.
type WebSocketDialer struct {
	// HTTPClient is used for the upgrade request. Nil selects the default.
	HTTPClient *http.Client

	// Header is sent with the upgrade request.
	Header http.Header

	// ReadLimit defaults to 1 MiB.
	ReadLimit int64
}

var _ Dialer = WebSocketDialer{}

// Dial implements [Dialer].
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Channel, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsChannel{c: c}, nil
}

type wsChannel struct {
	c *websocket.Conn
}

func (w *wsChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.c.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
		// The protocol is text-only.
	}
}

func (w *wsChannel) Write(ctx context.Context, frame []byte) error {
	return w.c.Write(ctx, websocket.MessageText, frame)
}

func (w *wsChannel) Close() error {
	if err := w.c.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
		return fmt.Errorf("conn: close: %w", err)
	}
	return nil
}
