package core

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-p2p/internal/broker"
	"github.com/vovakirdan/wirechat-p2p/internal/identity"
	"github.com/vovakirdan/wirechat-p2p/internal/log"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()
	return mustMatch(t, ch, kind.String(), func(ev *Event) bool { return ev.Kind == kind })
}

// mustMatch drains ch until an event satisfies match, discarding the others.
func mustMatch(t *testing.T, ch <-chan *Event, what string, match func(*Event) bool) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if match(ev) {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %s not received", what)
	return nil
}

func mustStatus(t *testing.T, s *Session, status Status) *Event {
	t.Helper()
	return mustMatch(t, s.Events(), "status "+string(status), func(ev *Event) bool {
		return ev.Kind == EventStatus && ev.Status == status
	})
}

func mustPeers(t *testing.T, s *Session, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	mustMatch(t, s.Events(), "connections changed", func(ev *Event) bool {
		got := ev.Peers
		if got == nil {
			got = []string{}
		}
		return ev.Kind == EventConnectionsChanged && reflect.DeepEqual(got, want)
	})
}

func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected %s event: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

type staticIdentity struct {
	id identity.Identity
	ok bool
}

func (s staticIdentity) Current(context.Context) (identity.Identity, bool, error) {
	return s.id, s.ok, nil
}

func newTestSession(t *testing.T, b broker.Broker, src IdentitySource) *Session {
	t.Helper()

	s := New(src, b, Options{InviteCloseDelay: 50 * time.Millisecond}, log.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	t.Cleanup(func() {
		destroyCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		if err := s.Destroy(destroyCtx); err != nil {
			t.Errorf("destroy: %v", err)
		}
		cancel()
	})
	return s
}

// startSession creates a running but uninitialized session for name.
func startSession(t *testing.T, b broker.Broker, name string) *Session {
	t.Helper()
	id := identity.Identity{ID: identity.Normalize(name), DisplayName: name}
	return newTestSession(t, b, staticIdentity{id: id, ok: true})
}

// startPeer creates an initialized session for name.
func startPeer(t *testing.T, b broker.Broker, name string) *Session {
	t.Helper()

	s := startSession(t, b, name)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize %s: %v", name, err)
	}
	mustStatus(t, s, StatusReady)
	return s
}

// fakeConn is a broker.Conn driven by the test.
type fakeConn struct {
	remote  string
	reads   chan []byte
	readErr chan error
	writes  chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn(remote string) *fakeConn {
	return &fakeConn{
		remote:  remote,
		reads:   make(chan []byte, 16),
		readErr: make(chan error, 1),
		writes:  make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) RemoteID() string { return f.remote }

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.reads:
		return data, nil
	case err := <-f.readErr:
		return nil, err
	case <-f.closed:
		return nil, broker.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-f.closed:
		return broker.ErrClosed
	default:
	}
	select {
	case f.writes <- data:
		return nil
	case <-f.closed:
		return broker.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// gatedBroker holds every Dial until gate is closed and signals entered when one starts.
type gatedBroker struct {
	broker.Broker
	gate    chan struct{}
	entered chan struct{}
}

func newGatedBroker(b broker.Broker) *gatedBroker {
	return &gatedBroker{Broker: b, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
}

func (g *gatedBroker) Listen(ctx context.Context, id string) (broker.Endpoint, error) {
	ep, err := g.Broker.Listen(ctx, id)
	if err != nil {
		return nil, err
	}
	return &gatedEndpoint{Endpoint: ep, broker: g}, nil
}

type gatedEndpoint struct {
	broker.Endpoint
	broker *gatedBroker
}

func (e *gatedEndpoint) Dial(ctx context.Context, remoteID string) (broker.Conn, error) {
	select {
	case e.broker.entered <- struct{}{}:
	default:
	}
	select {
	case <-e.broker.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.Endpoint.Dial(ctx, remoteID)
}

// losingBroker hands out endpoints whose Accept fails with err once lose is closed.
type losingBroker struct {
	broker.Broker
	lose chan struct{}
	err  error
}

func (l *losingBroker) Listen(ctx context.Context, id string) (broker.Endpoint, error) {
	ep, err := l.Broker.Listen(ctx, id)
	if err != nil {
		return nil, err
	}
	return &losingEndpoint{Endpoint: ep, broker: l}, nil
}

type losingEndpoint struct {
	broker.Endpoint
	broker *losingBroker
}

func (e *losingEndpoint) Accept(ctx context.Context) (broker.Conn, error) {
	select {
	case <-e.broker.lose:
		return nil, e.broker.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
