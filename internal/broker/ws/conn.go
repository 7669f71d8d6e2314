package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-p2p/internal/broker"
)

type conn struct {
	ws       *websocket.Conn
	remoteID string

	// closed is closed by a local Close; ended also when a read fails for good.
	closed    chan struct{}
	closeOnce sync.Once
	ended     chan struct{}
	endOnce   sync.Once
}

func newConn(ws *websocket.Conn, remoteID string) *conn {
	return &conn{
		ws:       ws,
		remoteID: remoteID,
		closed:   make(chan struct{}),
		ended:    make(chan struct{}),
	}
}

func (c *conn) end() {
	c.endOnce.Do(func() { close(c.ended) })
}

func (c *conn) RemoteID() string { return c.remoteID }

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		c.end()
		return nil, c.mapErr(err)
	}
	return data, nil
}

func (c *conn) Write(ctx context.Context, data []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// Close performs the closing handshake. It may block until the peer answers or the library's
// close timeout elapses. A peer that never answers is not an error: our close frame went out
// and the connection is torn down either way.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.end()
		err = c.ws.Close(websocket.StatusNormalClosure, "closing")
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

// mapErr reports clean closes from either side as broker.ErrClosed.
func (c *conn) mapErr(err error) error {
	select {
	case <-c.closed:
		return broker.ErrClosed
	default:
	}

	if errors.Is(err, io.EOF) {
		return broker.ErrClosed
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return broker.ErrClosed
	}
	return fmt.Errorf("peer %q: %w", c.remoteID, err)
}
