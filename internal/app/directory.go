package app

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-p2p/internal/config"
	"github.com/vovakirdan/wirechat-p2p/internal/directory"
)

// Directory runs the peer directory service.
type Directory struct {
	server          *stdhttp.Server
	directory       *directory.Server
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// NewDirectory constructs the directory service with provided configuration.
func NewDirectory(cfg config.DirectoryConfig, logger *zerolog.Logger) *Directory {
	secret := cfg.JWTSecret
	if secret == "" {
		// Leases do not outlive the process, so a random secret is enough.
		secret = uuid.NewString()
		logger.Info().Msg("no jwt secret configured, using a random one")
	}

	signer := &directory.LeaseSigner{Secret: []byte(secret), Issuer: cfg.JWTIssuer}
	registry := directory.NewRegistry(cfg.LeaseTTL, logger)
	srv := directory.NewServer(registry, signer, cfg.RegisterRateLimit, logger)

	return &Directory{
		server: &stdhttp.Server{
			Addr:              cfg.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		directory:       srv,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (d *Directory) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.server.Addr)
	if err != nil {
		return err
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (d *Directory) Serve(ctx context.Context, ln net.Listener) error {
	serverErr := make(chan error, 1)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go d.directory.Run(sweepCtx)

	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	d.log.Info().Str("addr", ln.Addr().String()).Msg("directory listening")

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
		defer cancel()

		d.log.Info().Msg("shutting down directory")
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
