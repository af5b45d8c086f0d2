// Package transport provides the persistent text-frame connection between the
// client and the relay.
package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/wire"
)

// Conn is the frame-level surface the session and dispatcher operate on.
type Conn interface {
	// Send writes one frame. Sending on a closed connection returns an error.
	Send(ctx context.Context, f wire.Frame) error
	// Frames yields inbound frames in arrival order. The channel closes when
	// the connection drops for any reason.
	Frames() <-chan wire.Frame
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Channel is a websocket-backed Conn. A single read loop feeds Frames;
// malformed frames are dropped there so they never reach the consumer.
type Channel struct {
	conn   *websocket.Conn
	frames chan wire.Frame
	cancel context.CancelFunc

	closeOnce sync.Once
	log       *zerolog.Logger
}

// Dial opens a channel to the relay's websocket endpoint.
func Dial(ctx context.Context, url string, logger *zerolog.Logger) (*Channel, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		conn:   conn,
		frames: make(chan wire.Frame, 64),
		cancel: cancel,
		log:    logger,
	}
	go ch.readLoop(readCtx)
	return ch, nil
}

// Send encodes and writes one text frame.
func (c *Channel) Send(ctx context.Context, f wire.Frame) error {
	raw, err := wire.Encode(f)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Frames returns the inbound frame stream.
func (c *Channel) Frames() <-chan wire.Frame {
	return c.frames
}

// Close shuts the connection down; the read loop exits and Frames closes.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
	})
	return nil
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.frames)

	for {
		typ, raw, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if ctx.Err() == nil && status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.log.Debug().Err(err).Msg("channel read ended")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		frame, err := wire.Decode(raw)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Dialer dials the relay derived from its HTTP base URL.
type Dialer struct {
	ServerURL string
	Log       *zerolog.Logger
}

// Dial connects to the relay's /ws endpoint.
func (d Dialer) Dial(ctx context.Context) (Conn, error) {
	return Dial(ctx, WebsocketURL(d.ServerURL), d.Log)
}

// WebsocketURL converts an http(s) base URL into the relay's ws(s) endpoint.
func WebsocketURL(serverURL string) string {
	url := strings.TrimSuffix(serverURL, "/")
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws"
}
