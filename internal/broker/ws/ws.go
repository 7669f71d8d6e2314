// Package ws is a broker whose endpoints are small WebSocket servers. Each endpoint claims its id in
// the directory together with the URL it serves /peer on; dialers look that URL up and connect
// directly. The first frame on every connection is a proto.Hello naming the dialer.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-p2p/internal/broker"
	"github.com/vovakirdan/wirechat-p2p/internal/directory"
	"github.com/vovakirdan/wirechat-p2p/internal/proto"
)

const peerPath = "/peer"

// Options configures endpoints created by the broker.
type Options struct {
	// ListenAddr is the local address the endpoint server binds, e.g. 127.0.0.1:0.
	ListenAddr string
	// AdvertiseURL is published to the directory instead of the bound address when set.
	AdvertiseURL    string
	DialTimeout     time.Duration
	MaxMessageBytes int64
	// HTTPClient is used for dialing peers. Nil means http.DefaultClient.
	HTTPClient *stdhttp.Client
}

// Broker creates WebSocket endpoints registered in a directory.
type Broker struct {
	opts Options
	dir  *directory.Client
	log  *zerolog.Logger
}

// New creates a broker using dir for registration and lookups.
func New(opts Options, dir *directory.Client, logger *zerolog.Logger) *Broker {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 << 10
	}
	return &Broker{opts: opts, dir: dir, log: logger}
}

// Listen binds the endpoint server and claims id in the directory.
// A live claim held elsewhere yields broker.ErrIDTaken.
func (b *Broker) Listen(ctx context.Context, id string) (broker.Endpoint, error) {
	ln, err := net.Listen("tcp", b.opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", b.opts.ListenAddr, err)
	}

	advertise := b.opts.AdvertiseURL
	if advertise == "" {
		advertise = "ws://" + ln.Addr().String()
	}

	lease, err := b.dir.Register(ctx, id, advertise+peerPath)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	logger := b.log.With().Str("peer_id", id).Logger()
	ep := &endpoint{
		id:     id,
		url:    advertise + peerPath,
		broker: b,
		accept: make(chan *conn),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
		lease:  lease,
		log:    &logger,
	}

	mux := stdhttp.NewServeMux()
	mux.HandleFunc(peerPath, ep.serve)
	ep.server = &stdhttp.Server{
		Handler:           mux,
		ReadHeaderTimeout: b.opts.DialTimeout,
	}

	ep.wg.Add(2)
	go func() {
		defer ep.wg.Done()
		if err := ep.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			ep.log.Error().Err(err).Msg("endpoint server stopped")
		}
	}()
	go func() {
		defer ep.wg.Done()
		ep.refreshLoop()
	}()

	ep.log.Info().Str("url", ep.url).Msg("endpoint listening")
	return ep, nil
}

type endpoint struct {
	id     string
	url    string
	broker *Broker
	server *stdhttp.Server
	accept chan *conn
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	// lost is closed when the claim cannot be won back; lostErr says why.
	lost     chan struct{}
	lostErr  error
	lostOnce sync.Once

	mu    sync.Mutex
	lease directory.Lease

	log *zerolog.Logger
}

func (e *endpoint) ID() string { return e.id }

func (e *endpoint) Accept(ctx context.Context) (broker.Conn, error) {
	select {
	case c := <-e.accept:
		return c, nil
	case <-e.done:
		return nil, broker.ErrClosed
	case <-e.lost:
		return nil, e.lostErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *endpoint) Dial(ctx context.Context, remoteID string) (broker.Conn, error) {
	select {
	case <-e.done:
		return nil, broker.ErrClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, e.broker.opts.DialTimeout)
	defer cancel()

	url, err := e.broker.dir.Lookup(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: e.broker.opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w: %v", remoteID, broker.ErrPeerUnavailable, err)
	}
	wsConn.SetReadLimit(e.broker.opts.MaxMessageBytes)

	if err := wsjson.Write(ctx, wsConn, proto.Hello{From: e.id, Protocol: proto.ProtocolVersion}); err != nil {
		_ = wsConn.Close(websocket.StatusInternalError, "hello failed")
		return nil, fmt.Errorf("send hello to %q: %w", remoteID, err)
	}

	e.log.Debug().Str("remote_id", remoteID).Str("url", url).Msg("dialed peer")
	return newConn(wsConn, remoteID), nil
}

// serve upgrades an inbound request, reads the hello and hands the connection to Accept.
// The handler returns once the connection closes or the endpoint stops listening.
func (e *endpoint) serve(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("ws accept error")
		return
	}
	wsConn.SetReadLimit(e.broker.opts.MaxMessageBytes)

	helloCtx, cancel := context.WithTimeout(r.Context(), e.broker.opts.DialTimeout)
	var hello proto.Hello
	err = wsjson.Read(helloCtx, wsConn, &hello)
	cancel()
	if err != nil || hello.From == "" {
		e.log.Warn().Err(err).Msg("inbound connection without hello")
		_ = wsConn.Close(websocket.StatusPolicyViolation, "hello required")
		return
	}

	c := newConn(wsConn, hello.From)
	select {
	case e.accept <- c:
	case <-e.done:
		_ = c.Close()
		return
	}

	select {
	case <-c.ended:
	case <-e.done:
	}
}

func (e *endpoint) refreshLoop() {
	e.mu.Lock()
	interval := e.lease.TTL / 2
	e.mu.Unlock()
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			lease := e.lease
			e.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), e.broker.opts.DialTimeout)
			renewed, err := e.broker.dir.Refresh(ctx, lease)
			if errors.Is(err, directory.ErrLeaseLost) {
				e.log.Warn().Err(err).Msg("lease lost, registering again")
				renewed, err = e.broker.dir.Register(ctx, e.id, e.url)
			}
			cancel()
			if errors.Is(err, broker.ErrIDTaken) {
				e.log.Error().Err(err).Msg("id claimed elsewhere while the lease was lost")
				e.fail(err)
				return
			}
			if err != nil {
				e.log.Warn().Err(err).Msg("lease refresh failed")
				continue
			}

			e.mu.Lock()
			e.lease = renewed
			e.mu.Unlock()
		case <-e.done:
			return
		}
	}
}

func (e *endpoint) fail(err error) {
	e.lostOnce.Do(func() {
		e.lostErr = err
		close(e.lost)
	})
}

// Close stops the endpoint server and releases the directory claim.
func (e *endpoint) Close() error {
	var err error
	e.once.Do(func() {
		close(e.done)

		ctx, cancel := context.WithTimeout(context.Background(), e.broker.opts.DialTimeout)
		defer cancel()

		if shutdownErr := e.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutdown endpoint: %w", shutdownErr)
		}

		e.mu.Lock()
		lease := e.lease
		e.mu.Unlock()
		if releaseErr := e.broker.dir.Release(ctx, lease); releaseErr != nil {
			e.log.Warn().Err(releaseErr).Msg("lease release failed")
		}

		e.wg.Wait()
		e.log.Info().Msg("endpoint closed")
	})
	return err
}
