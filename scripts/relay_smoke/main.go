package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/vovakirdan/wirechat-p2p/internal/broker/ws"
	"github.com/vovakirdan/wirechat-p2p/internal/core"
	"github.com/vovakirdan/wirechat-p2p/internal/directory"
	"github.com/vovakirdan/wirechat-p2p/internal/identity"
	applog "github.com/vovakirdan/wirechat-p2p/internal/log"
	"github.com/vovakirdan/wirechat-p2p/internal/proto"
)

type fixedIdentity identity.Identity

func (f fixedIdentity) Current(context.Context) (identity.Identity, bool, error) {
	return identity.Identity(f), true, nil
}

func main() {
	if err := run(); err != nil {
		log.Printf("relay_smoke: %v", err)
		os.Exit(1)
	}
}

// run brings a host and two guests online through a running directory and checks that a
// message from one guest reaches the other through the host.
func run() error {
	dirURL := flag.String("directory", "http://localhost:8090", "directory service URL")
	prefix := flag.String("prefix", "smoke", "id prefix for the three peers")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger := applog.New(*level)
	dir := directory.NewClient(*dirURL, &http.Client{Timeout: 5 * time.Second})
	b := ws.New(ws.Options{ListenAddr: "127.0.0.1:0"}, dir, logger)

	names := []string{*prefix + "host", *prefix + "guest1", *prefix + "guest2"}
	sessions := make([]*core.Session, 0, len(names))
	defer func() {
		for _, s := range sessions {
			destroyCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Destroy(destroyCtx); err != nil {
				log.Printf("destroy: %v", err)
			}
			done()
		}
	}()

	for _, name := range names {
		s := core.New(fixedIdentity{ID: identity.Normalize(name), DisplayName: name}, b, core.DefaultOptions(), logger)
		go s.Run(ctx)
		sessions = append(sessions, s)
		if err := s.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", name, err)
		}
	}
	host, guest1, guest2 := sessions[0], sessions[1], sessions[2]
	hostID := identity.Normalize(names[0])

	for _, g := range []*core.Session{guest1, guest2} {
		if err := g.ConnectToRoom(ctx, hostID); err != nil {
			return fmt.Errorf("join %s: %w", hostID, err)
		}
	}
	if err := waitFor(ctx, host, func(ev *core.Event) bool {
		return ev.Kind == core.EventConnectionsChanged && len(ev.Peers) == 2
	}); err != nil {
		return fmt.Errorf("host never saw both guests: %w", err)
	}
	fmt.Printf("Host %s has guests connected\n", hostID)

	if err := guest1.Send(ctx, proto.ChatMessage{From: identity.Normalize(names[1]), Content: *text, TS: time.Now().Unix()}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	var received *core.Event
	if err := waitFor(ctx, guest2, func(ev *core.Event) bool {
		if ev.Kind != core.EventMessage {
			return false
		}
		received = ev
		return true
	}); err != nil {
		return fmt.Errorf("relayed message not received: %w", err)
	}

	var msg proto.ChatMessage
	if err := json.Unmarshal(received.Message, &msg); err != nil {
		fmt.Printf("Raw message via %s: %s\n", received.From, received.Message)
		return nil
	}
	fmt.Printf("Relayed via %s: from=%s text=%q ts=%d\n", received.From, msg.From, msg.Content, msg.TS)
	return nil
}

func waitFor(ctx context.Context, s *core.Session, match func(*core.Event) bool) error {
	for {
		select {
		case ev := <-s.Events():
			if match(ev) {
				return nil
			}
			if ev.Kind == core.EventStatus && ev.Status == core.StatusError {
				log.Printf("status error from %q: %v", ev.From, ev.Err)
			}
		case <-ctx.Done():
			return errors.Join(ctx.Err(), errors.New("timed out waiting for event"))
		}
	}
}
