package app

import (
	"context"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-p2p/internal/broker"
	"github.com/vovakirdan/wirechat-p2p/internal/broker/ws"
	"github.com/vovakirdan/wirechat-p2p/internal/config"
	"github.com/vovakirdan/wirechat-p2p/internal/console"
	"github.com/vovakirdan/wirechat-p2p/internal/core"
	"github.com/vovakirdan/wirechat-p2p/internal/directory"
	"github.com/vovakirdan/wirechat-p2p/internal/identity"
	"github.com/vovakirdan/wirechat-p2p/internal/service/friends"
	"github.com/vovakirdan/wirechat-p2p/internal/store"
)

// Peer wires the local store, identity, friends and network layers of one participant.
type Peer struct {
	cfg        config.PeerConfig
	store      store.Store
	identities *identity.Service
	friends    *friends.Service
	broker     broker.Broker
	log        *zerolog.Logger
}

// NewPeer opens the configured store and builds a peer that reaches others through the
// directory at cfg.Peer.DirectoryURL.
func NewPeer(cfg *config.Config, logger *zerolog.Logger) (*Peer, error) {
	st, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("driver", cfg.Storage.Driver).Str("path", cfg.Storage.Path).Msg("store opened")

	httpClient := &stdhttp.Client{Timeout: cfg.Peer.DialTimeout}
	dir := directory.NewClient(cfg.Peer.DirectoryURL, httpClient)
	b := ws.New(ws.Options{
		ListenAddr:      cfg.Peer.ListenAddr,
		AdvertiseURL:    cfg.Peer.AdvertiseURL,
		DialTimeout:     cfg.Peer.DialTimeout,
		MaxMessageBytes: cfg.Peer.MaxMessageBytes,
	}, dir, logger)

	return newPeer(cfg.Peer, st, b, logger), nil
}

func newPeer(cfg config.PeerConfig, st store.Store, b broker.Broker, logger *zerolog.Logger) *Peer {
	return &Peer{
		cfg:        cfg,
		store:      st,
		identities: identity.NewService(st),
		friends:    friends.New(st),
		broker:     b,
		log:        logger,
	}
}

// Register creates or replaces the local identity.
func (p *Peer) Register(ctx context.Context, displayName string) (identity.Identity, error) {
	return p.identities.Register(ctx, displayName)
}

// Whoami returns the local identity; ok is false before Register.
func (p *Peer) Whoami(ctx context.Context) (identity.Identity, bool, error) {
	return p.identities.Current(ctx)
}

// Friends lists the friends of the local identity.
func (p *Peer) Friends(ctx context.Context) ([]*store.Friend, error) {
	self, ok, err := p.identities.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return p.friends.List(ctx, self.ID)
}

// Chat brings the session online and runs the console on in and out until the console quits
// or ctx is cancelled.
func (p *Peer) Chat(ctx context.Context, in io.Reader, out io.Writer) error {
	session := core.New(p.identities, p.broker, core.Options{
		EventBuffer:      p.cfg.EventBuffer,
		SendBuffer:       p.cfg.SendBuffer,
		InviteCloseDelay: p.cfg.InviteCloseDelay,
	}, p.log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go session.Run(runCtx)

	defer func() {
		destroyCtx, done := context.WithTimeout(context.Background(), 2*p.cfg.DialTimeout+time.Second)
		defer done()
		if err := session.Destroy(destroyCtx); err != nil {
			p.log.Warn().Err(err).Msg("session teardown incomplete")
		}
	}()

	if err := session.Initialize(ctx); err != nil {
		return fmt.Errorf("go online: %w", err)
	}

	return console.New(session, p.friends, in, out, p.log).Run(ctx)
}

// Close releases the store.
func (p *Peer) Close() error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
