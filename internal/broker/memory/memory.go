// Package memory is an in-process broker. Endpoints on the same Network reach each other
// through buffered channel pipes.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vovakirdan/wirechat-p2p/internal/broker"
)

const pipeBuffer = 64

// Network is a shared directory of in-process endpoints.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*endpoint)}
}

// Listen registers id on the network.
func (n *Network) Listen(_ context.Context, id string) (broker.Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.endpoints[id]; exists {
		return nil, fmt.Errorf("listen %q: %w", id, broker.ErrIDTaken)
	}
	ep := &endpoint{
		id:     id,
		net:    n,
		inbox:  make(chan broker.Conn, pipeBuffer),
		closed: make(chan struct{}),
	}
	n.endpoints[id] = ep
	return ep, nil
}

// Reachable reports whether id currently has a listening endpoint.
func (n *Network) Reachable(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.endpoints[id]
	return ok
}

func (n *Network) lookup(id string) (*endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[id]
	return ep, ok
}

func (n *Network) remove(ep *endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[ep.id] == ep {
		delete(n.endpoints, ep.id)
	}
}

type endpoint struct {
	id     string
	net    *Network
	inbox  chan broker.Conn
	closed chan struct{}
	once   sync.Once
}

func (e *endpoint) ID() string { return e.id }

func (e *endpoint) Accept(ctx context.Context) (broker.Conn, error) {
	select {
	case c := <-e.inbox:
		return c, nil
	case <-e.closed:
		return nil, broker.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *endpoint) Dial(ctx context.Context, remoteID string) (broker.Conn, error) {
	select {
	case <-e.closed:
		return nil, broker.ErrClosed
	default:
	}

	remote, ok := e.net.lookup(remoteID)
	if !ok {
		return nil, fmt.Errorf("dial %q: %w", remoteID, broker.ErrPeerUnavailable)
	}

	local, accepted := newPipe(e.id, remoteID)
	select {
	case remote.inbox <- accepted:
		return local, nil
	case <-remote.closed:
		return nil, fmt.Errorf("dial %q: %w", remoteID, broker.ErrPeerUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *endpoint) Close() error {
	e.once.Do(func() {
		e.net.remove(e)
		close(e.closed)
	})
	return nil
}

// pipe is the shared state of both ends of one connection.
type pipe struct {
	closed chan struct{}
	once   sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.closed) })
}

type conn struct {
	remoteID string
	in       <-chan []byte
	out      chan<- []byte
	pipe     *pipe
}

// newPipe returns the dialer's end (facing acceptorID) and the acceptor's end (facing dialerID).
func newPipe(dialerID, acceptorID string) (dialer, acceptor *conn) {
	p := &pipe{closed: make(chan struct{})}
	toAcceptor := make(chan []byte, pipeBuffer)
	toDialer := make(chan []byte, pipeBuffer)

	dialer = &conn{remoteID: acceptorID, in: toDialer, out: toAcceptor, pipe: p}
	acceptor = &conn{remoteID: dialerID, in: toAcceptor, out: toDialer, pipe: p}
	return dialer, acceptor
}

func (c *conn) RemoteID() string { return c.remoteID }

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.pipe.closed:
		// Deliver what was sent before the close.
		select {
		case data := <-c.in:
			return data, nil
		default:
			return nil, broker.ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.pipe.closed:
		return broker.ErrClosed
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case c.out <- buf:
		return nil
	case <-c.pipe.closed:
		return broker.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) Close() error {
	c.pipe.close()
	return nil
}
