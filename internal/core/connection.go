package core

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-p2p/internal/broker"
)

// Connection is an open connection to one remote peer as seen by the session.
// A reader goroutine feeds inbound data into the session loop and a writer goroutine
// drains a bounded send queue, so sends on one connection keep their order.
type Connection struct {
	ID       string
	remoteID string
	inbound  bool

	conn   broker.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	log       zerolog.Logger
}

func newConnection(bc broker.Conn, inbound bool, sendBuffer int, logger *zerolog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	direction := "outbound"
	if inbound {
		direction = "inbound"
	}

	return &Connection{
		ID:       id,
		remoteID: bc.RemoteID(),
		inbound:  inbound,
		conn:     bc,
		send:     make(chan []byte, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		log: logger.With().
			Str("peer_id", bc.RemoteID()).
			Str("conn_id", id).
			Str("direction", direction).
			Logger(),
	}
}

// RemoteID is the id of the peer on the other end.
func (c *Connection) RemoteID() string { return c.remoteID }

// Inbound reports whether the remote peer dialed us.
func (c *Connection) Inbound() bool { return c.inbound }

// enqueue queues data for the writer. It never blocks: a closed connection or a full queue
// drops the payload and returns false.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn().Msg("send queue full, dropping payload")
		return false
	}
}

// close aborts pending sends. The writer closes the underlying transport on its way out.
func (c *Connection) close() {
	c.closeOnce.Do(c.cancel)
}

func (c *Connection) closedLocally() bool {
	return c.ctx.Err() != nil
}

// writeLoop sends queued payloads until the connection is closed or a write fails.
func (c *Connection) writeLoop() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close transport")
		}
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.conn.Write(c.ctx, data); err != nil {
				if !c.closedLocally() && !errors.Is(err, broker.ErrClosed) {
					c.log.Warn().Err(err).Msg("write failed")
				}
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop hands every inbound message to onData and reports the terminal error to onClose.
// Both callbacks return false once the session stopped listening.
func (c *Connection) readLoop(onData func(*Connection, []byte) bool, onClose func(*Connection, error)) {
	for {
		data, err := c.conn.Read(c.ctx)
		if err != nil {
			onClose(c, err)
			return
		}
		if !onData(c, data) {
			return
		}
	}
}
