package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-p2p/internal/broker"
	"github.com/vovakirdan/wirechat-p2p/internal/errs"
	"github.com/vovakirdan/wirechat-p2p/internal/identity"
	applog "github.com/vovakirdan/wirechat-p2p/internal/log"
	"github.com/vovakirdan/wirechat-p2p/internal/proto"
)

const commandBuffer = 64

// IdentitySource provides the local identity. identity.Service implements it.
type IdentitySource interface {
	Current(ctx context.Context) (identity.Identity, bool, error)
}

// Options tunes a session.
type Options struct {
	// EventBuffer is the capacity of the Events channel. Events beyond it are dropped.
	EventBuffer int
	// SendBuffer is the per-connection send queue capacity.
	SendBuffer int
	// InviteCloseDelay is how long an invite connection stays open after the invite is queued.
	InviteCloseDelay time.Duration
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		EventBuffer:      256,
		SendBuffer:       64,
		InviteCloseDelay: time.Second,
	}
}

// Session is the peer-to-peer chat session: it keeps the registry of open connections,
// tracks whether the process hosts a room and relays chat between guests when it does.
//
// A single loop goroutine started by Run owns all mutable state. Public methods submit
// commands to it and wait for the result; events come out of Events in emission order.
type Session struct {
	identities IdentitySource
	broker     broker.Broker
	opts       Options
	log        *zerolog.Logger

	commands chan *command
	events   chan *Event
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// life bounds the accept loop; it ends when the session stops.
	life       context.Context
	cancelLife context.CancelFunc
	wg         sync.WaitGroup

	role roleState
	self atomic.Pointer[identity.Identity]

	endpointOnce sync.Once

	// Owned by the loop.
	registry *Registry
	side     map[*Connection]struct{}
	// superseded holds a registered connection displaced by a newer inbound one from the
	// same peer, until it closes or the newer one turns out to be a request connection.
	superseded   map[string]*Connection
	pendingJoins int
	endpoint     broker.Endpoint
	initializing bool
	destroyed    bool
}

// New creates a session. Call Run to start it and Destroy to tear it down.
func New(identities IdentitySource, b broker.Broker, opts Options, logger *zerolog.Logger) *Session {
	defaults := DefaultOptions()
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaults.EventBuffer
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.InviteCloseDelay < 0 {
		opts.InviteCloseDelay = defaults.InviteCloseDelay
	}

	life, cancel := context.WithCancel(context.Background())
	s := &Session{
		identities: identities,
		broker:     b,
		opts:       opts,
		log:        applog.Component(logger, "session"),
		commands:   make(chan *command, commandBuffer),
		events:     make(chan *Event, opts.EventBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		life:       life,
		cancelLife: cancel,
		side:       make(map[*Connection]struct{}),
		superseded: make(map[string]*Connection),
	}
	s.registry = NewRegistry(s.connectionsChanged, s.role.Reset, s.log)
	return s
}

// Run processes commands until ctx is cancelled or Destroy is called.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case cmd := <-s.commands:
			cmd.done <- cmd.run()
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

// Events delivers notifications in emission order.
func (s *Session) Events() <-chan *Event { return s.events }

// IsHost reports whether the process currently relays chat for its peers.
func (s *Session) IsHost() bool { return s.role.IsHost() }

// Role returns the current role.
func (s *Session) Role() Role { return s.role.Get() }

// Identity returns the identity the session was initialized with.
func (s *Session) Identity() (identity.Identity, bool) {
	self := s.self.Load()
	if self == nil {
		return identity.Identity{}, false
	}
	return *self, true
}

// Peers returns the registered remote ids in insertion order.
func (s *Session) Peers(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.do(ctx, func() error {
		ids = s.registry.IDs()
		return nil
	})
	return ids, err
}

// Initialize makes the process reachable under the registered identity and starts accepting
// inbound connections. Calling it again once initialized does nothing.
func (s *Session) Initialize(ctx context.Context) error {
	self, ok, err := s.identities.Current(ctx)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		return errs.ErrNotRegistered
	}

	proceed := false
	err = s.do(ctx, func() error {
		if s.destroyed {
			return errs.ErrDestroyed
		}
		if s.endpoint != nil || s.initializing {
			return nil
		}
		s.initializing = true
		proceed = true
		return nil
	})
	if err != nil || !proceed {
		return err
	}

	ep, err := s.broker.Listen(ctx, self.ID)
	if err != nil {
		status, wrapped := endpointFailure(self.ID, "listen failed", err)
		_ = s.do(ctx, func() error {
			s.initializing = false
			s.emit(&Event{Kind: EventStatus, Status: status, Err: wrapped})
			return nil
		})
		return wrapped
	}

	attached := false
	err = s.do(ctx, func() error {
		s.initializing = false
		if s.destroyed {
			return errs.ErrDestroyed
		}
		s.endpoint = ep
		s.self.Store(&self)
		attached = true

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(ep)
		}()

		s.log.Info().Str("peer_id", self.ID).Msg("session ready")
		s.emit(&Event{Kind: EventStatus, Status: StatusReady})
		return nil
	})
	if !attached {
		_ = ep.Close()
	}
	return err
}

// SendFriendRequest dials targetID and sends it a friend request. The connection stays open
// outside the registry so the answer can come back on it.
func (s *Session) SendFriendRequest(ctx context.Context, targetID string) error {
	self, ep, target, err := s.prepareDial(ctx, targetID)
	if err != nil {
		return err
	}

	bc, err := s.dial(ctx, ep, target)
	if err != nil {
		return err
	}

	data, err := proto.Encode(proto.FriendRequest{User: self})
	if err != nil {
		_ = bc.Close()
		return fmt.Errorf("encode friend request: %w", err)
	}

	return s.attachSide(ctx, bc, data, func(*Connection) {
		s.emit(&Event{Kind: EventStatus, Status: StatusReqSent, From: target})
	})
}

// AcceptFriend answers a friend request on the connection it arrived on.
func (s *Session) AcceptFriend(ctx context.Context, c *Connection) error {
	if c == nil {
		return errs.New(errs.CodeValidation, "no connection to answer on")
	}
	self, ok := s.Identity()
	if !ok {
		return errs.ErrNotInitialized
	}

	data, err := proto.Encode(proto.FriendAccept{User: self})
	if err != nil {
		return fmt.Errorf("encode friend accept: %w", err)
	}

	return s.do(ctx, func() error {
		if !s.tracked(c) {
			return errs.New(errs.CodeTransport, fmt.Sprintf("connection to %q is closed", c.RemoteID()))
		}
		if !c.enqueue(data) {
			return errs.New(errs.CodeTransport, fmt.Sprintf("cannot send to %q", c.RemoteID()))
		}
		return nil
	})
}

// DeclineRequest closes the connection an inbox request arrived on.
func (s *Session) DeclineRequest(ctx context.Context, c *Connection) error {
	if c == nil {
		return nil
	}
	return s.do(ctx, func() error {
		if s.registry.Contains(c) {
			s.registry.Remove(c.RemoteID())
			c.close()
			return nil
		}
		s.closeSide(c)
		return nil
	})
}

// InviteToRoom dials friendID, sends a room invite and closes that connection after
// InviteCloseDelay. The invitee is expected to connect back.
func (s *Session) InviteToRoom(ctx context.Context, friendID, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return errs.New(errs.CodeValidation, "room id is required")
	}

	self, ep, target, err := s.prepareDial(ctx, friendID)
	if err != nil {
		return err
	}

	bc, err := s.dial(ctx, ep, target)
	if err != nil {
		return err
	}

	data, err := proto.Encode(proto.RoomInvite{User: self, RoomID: roomID})
	if err != nil {
		_ = bc.Close()
		return fmt.Errorf("encode room invite: %w", err)
	}

	return s.attachSide(ctx, bc, data, s.scheduleClose)
}

// ConnectToRoom leaves the current room, becomes a guest and joins hostID's room.
func (s *Session) ConnectToRoom(ctx context.Context, hostID string) error {
	_, ep, target, err := s.prepareDial(ctx, hostID)
	if err != nil {
		return err
	}

	if err := s.do(ctx, func() error {
		s.disconnectAll()
		s.role.BecomeGuest()
		s.pendingJoins++
		return nil
	}); err != nil {
		return err
	}
	joined := false
	defer func() {
		if !joined {
			_ = s.do(context.WithoutCancel(ctx), func() error {
				s.pendingJoins--
				return nil
			})
		}
	}()

	bc, err := s.dial(ctx, ep, target)
	if err != nil {
		return err
	}

	opened := false
	err = s.do(ctx, func() error {
		s.pendingJoins--
		joined = true
		c := s.open(bc, false)
		opened = true
		if !s.registry.Add(c) {
			c.close()
		}
		s.log.Info().Str("peer_id", target).Msg("joined room")
		s.emit(&Event{Kind: EventStatus, Status: StatusConnected, From: target})
		return nil
	})
	if !opened {
		_ = bc.Close()
	}
	return err
}

// Send wraps msg in a chat payload and queues it on every registered connection.
// With no connections it does nothing.
func (s *Session) Send(ctx context.Context, msg any) error {
	chat, err := proto.NewChat(msg)
	if err != nil {
		return errs.Wrap(errs.CodeValidation, "invalid chat message", err)
	}
	data, err := proto.Encode(chat)
	if err != nil {
		return errs.Wrap(errs.CodeValidation, "invalid chat message", err)
	}

	return s.do(ctx, func() error {
		s.registry.Broadcast(data)
		return nil
	})
}

// DisconnectPeer closes and unregisters the connection to peerID.
func (s *Session) DisconnectPeer(ctx context.Context, peerID string) error {
	return s.do(ctx, func() error {
		if c, ok := s.registry.Remove(peerID); ok {
			c.close()
		}
		return nil
	})
}

// Disconnect closes and unregisters every connection.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.disconnectAll()
		return nil
	})
}

// Destroy disconnects everything, stops being reachable and forgets the identity.
// The persisted identity is untouched. The session cannot be used afterwards.
func (s *Session) Destroy(ctx context.Context) error {
	err := s.do(ctx, func() error {
		s.disconnectAll()
		for c := range s.side {
			c.close()
		}
		s.side = make(map[*Connection]struct{})
		s.destroyed = true
		s.self.Store(nil)
		return nil
	})
	if errors.Is(err, errs.ErrDestroyed) {
		err = nil
	}

	s.quitOnce.Do(func() { close(s.quit) })
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The loop has exited, so the endpoint is no longer shared.
	s.endpointOnce.Do(func() {
		if s.endpoint != nil {
			if closeErr := s.endpoint.Close(); closeErr != nil && err == nil {
				err = errs.Wrap(errs.CodeTransport, "close endpoint", closeErr)
			}
		}
	})
	s.cancelLife()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info().Msg("session destroyed")
	return err
}

// do runs fn on the loop and returns its error. Once fn is queued the call waits for it.
func (s *Session) do(ctx context.Context, fn func() error) error {
	cmd := newCommand(fn)
	select {
	case s.commands <- cmd:
	case <-s.done:
		return errs.ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-s.done:
		select {
		case err := <-cmd.done:
			return err
		default:
			return errs.ErrDestroyed
		}
	}
}

// post queues fn on the loop without waiting. Returns false once the loop has stopped.
func (s *Session) post(fn func()) bool {
	cmd := newCommand(func() error {
		fn()
		return nil
	})
	select {
	case s.commands <- cmd:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) emit(ev *Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("kind", ev.Kind.String()).Msg("event consumer too slow, dropping event")
	}
}

func (s *Session) connectionsChanged(ids []string) {
	s.emit(&Event{Kind: EventConnectionsChanged, Peers: ids})
}

// prepareDial validates the target and snapshots what dialing needs.
func (s *Session) prepareDial(ctx context.Context, rawID string) (identity.Identity, broker.Endpoint, string, error) {
	target, err := identity.NormalizeID(rawID)
	if err != nil {
		return identity.Identity{}, nil, "", err
	}

	var (
		self identity.Identity
		ep   broker.Endpoint
	)
	err = s.do(ctx, func() error {
		if s.destroyed {
			return errs.ErrDestroyed
		}
		if s.endpoint == nil {
			return errs.ErrNotInitialized
		}
		self = *s.self.Load()
		ep = s.endpoint
		return nil
	})
	if err != nil {
		return identity.Identity{}, nil, "", err
	}

	if target == self.ID {
		return identity.Identity{}, nil, "", errs.New(errs.CodeValidation, "cannot connect to yourself")
	}
	return self, ep, target, nil
}

// dial opens a connection off the loop and reports failures as status error.
func (s *Session) dial(ctx context.Context, ep broker.Endpoint, target string) (broker.Conn, error) {
	bc, err := ep.Dial(ctx, target)
	if err == nil {
		return bc, nil
	}

	wrapped := errs.Wrap(errs.CodeTransport, fmt.Sprintf("connect to %q", target), err)
	s.log.Warn().Err(err).Str("peer_id", target).Msg("dial failed")
	_ = s.do(ctx, func() error {
		s.emit(&Event{Kind: EventStatus, Status: StatusError, From: target, Err: wrapped})
		return nil
	})
	return nil, wrapped
}

// attachSide tracks bc as a side connection, queues data on it and runs after on the loop.
func (s *Session) attachSide(ctx context.Context, bc broker.Conn, data []byte, after func(*Connection)) error {
	opened := false
	err := s.do(ctx, func() error {
		c := s.open(bc, false)
		opened = true
		s.side[c] = struct{}{}
		if !c.enqueue(data) {
			return errs.New(errs.CodeTransport, fmt.Sprintf("cannot send to %q", c.RemoteID()))
		}
		if after != nil {
			after(c)
		}
		return nil
	})
	if !opened {
		_ = bc.Close()
	}
	return err
}

// open wraps bc and starts its reader and writer. Runs on the loop.
func (s *Session) open(bc broker.Conn, inbound bool) *Connection {
	c := newConnection(bc, inbound, s.opts.SendBuffer, s.log)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		c.readLoop(s.onData, s.onClose)
	}()
	return c
}

func (s *Session) onData(c *Connection, data []byte) bool {
	return s.post(func() { s.handleData(c, data) })
}

func (s *Session) onClose(c *Connection, err error) {
	s.post(func() { s.handleClosed(c, err) })
}

func (s *Session) acceptLoop(ep broker.Endpoint) {
	for {
		bc, err := ep.Accept(s.life)
		if err != nil {
			if s.life.Err() == nil && !errors.Is(err, broker.ErrClosed) {
				s.log.Warn().Err(err).Msg("accept failed")
				status, wrapped := endpointFailure(ep.ID(), "stopped accepting connections", err)
				s.post(func() {
					s.emit(&Event{Kind: EventStatus, Status: status, Err: wrapped})
				})
			}
			return
		}
		if !s.post(func() { s.handleInbound(bc) }) {
			_ = bc.Close()
			return
		}
	}
}

// endpointFailure classifies an endpoint error: a claim held elsewhere is StatusTaken, anything
// else a transport error.
func endpointFailure(id, msg string, err error) (Status, error) {
	if errors.Is(err, broker.ErrIDTaken) {
		return StatusTaken, errs.Wrap(errs.CodeDuplicateIdentity, fmt.Sprintf("id %q is already taken", id), err)
	}
	return StatusError, errs.Wrap(errs.CodeTransport, msg, err)
}

// handleInbound admits an inbound connection and becomes host, unless the process is a
// guest in someone else's room. Unadmitted connections still deliver friend requests,
// friend accepts and invites but never chat.
//
// A peer that connects again while registered takes over its registry slot; the older
// connection waits in superseded until it closes.
func (s *Session) handleInbound(bc broker.Conn) {
	c := s.open(bc, true)

	switch {
	case s.pendingJoins > 0:
		c.log.Info().Msg("inbound connection not admitted while joining a room")
	case s.role.IsHost() || s.registry.Len() == 0:
		s.role.BecomeHost()
		if old, replaced := s.registry.Replace(c); replaced {
			s.supersede(old)
		}
		c.log.Info().Msg("peer joined")
		s.emit(&Event{Kind: EventStatus, Status: StatusConnected, From: c.RemoteID()})
		return
	default:
		c.log.Info().Msg("inbound connection not admitted while guest")
	}
	s.side[c] = struct{}{}
}

func (s *Session) supersede(old *Connection) {
	if prev, ok := s.superseded[old.RemoteID()]; ok {
		prev.close()
	}
	s.superseded[old.RemoteID()] = old
	old.log.Debug().Msg("connection superseded")
}

// demote moves an admitted inbound connection that turned out to carry a friend request or
// an invite out of the room. A connection it displaced gets its slot back.
func (s *Session) demote(c *Connection) {
	id := c.RemoteID()
	if old, ok := s.superseded[id]; ok {
		delete(s.superseded, id)
		s.registry.Replace(old)
	} else {
		s.registry.Remove(id)
	}
	s.side[c] = struct{}{}
	c.log.Debug().Msg("request connection moved out of the room")
}

// settle closes the connection c displaced, once c carries chat or ends.
func (s *Session) settle(c *Connection) {
	if old, ok := s.superseded[c.RemoteID()]; ok {
		delete(s.superseded, c.RemoteID())
		old.close()
	}
}

func (s *Session) handleClosed(c *Connection, err error) {
	if old, ok := s.superseded[c.RemoteID()]; ok && old == c {
		delete(s.superseded, c.RemoteID())
		c.close()
		c.log.Debug().Err(err).Msg("superseded connection closed")
		return
	}

	registered := s.registry.Contains(c)
	_, side := s.side[c]
	if !registered && !side {
		return
	}

	clean := c.closedLocally() || errors.Is(err, broker.ErrClosed)
	c.close()
	delete(s.side, c)
	if registered {
		s.registry.Remove(c.RemoteID())
		s.settle(c)
	}

	if clean {
		c.log.Debug().Msg("connection closed")
		return
	}
	c.log.Warn().Err(err).Msg("connection dropped")
	if registered {
		s.emit(&Event{
			Kind:   EventStatus,
			Status: StatusError,
			From:   c.RemoteID(),
			Err:    errs.Wrap(errs.CodeTransport, fmt.Sprintf("connection to %q dropped", c.RemoteID()), err),
		})
	}
}

func (s *Session) scheduleClose(c *Connection) {
	delay := s.opts.InviteCloseDelay

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			s.post(func() { s.closeSide(c) })
		case <-c.ctx.Done():
		}
	}()
}

func (s *Session) closeSide(c *Connection) {
	if _, ok := s.side[c]; !ok {
		return
	}
	delete(s.side, c)
	c.close()
}

func (s *Session) tracked(c *Connection) bool {
	if _, ok := s.side[c]; ok {
		return true
	}
	return s.registry.Contains(c)
}

func (s *Session) disconnectAll() {
	for _, c := range s.registry.Clear() {
		c.close()
	}
	for id, c := range s.superseded {
		delete(s.superseded, id)
		c.close()
	}
}

// shutdown closes every connection when the loop exits.
func (s *Session) shutdown() {
	for _, c := range s.registry.conns {
		c.close()
	}
	for c := range s.side {
		c.close()
	}
	for _, c := range s.superseded {
		c.close()
	}
	s.cancelLife()
}
