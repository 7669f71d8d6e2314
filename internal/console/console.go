// Package console is the interactive front end of a peer: it reads commands and chat lines from
// an input stream and renders session events to an output stream.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-p2p/internal/core"
	"github.com/vovakirdan/wirechat-p2p/internal/identity"
	applog "github.com/vovakirdan/wirechat-p2p/internal/log"
	"github.com/vovakirdan/wirechat-p2p/internal/proto"
	"github.com/vovakirdan/wirechat-p2p/internal/store"
)

const helpText = `commands:
  /friend <id>          send a friend request
  /accept [n]           accept inbox request n (default 1)
  /decline [n]          decline inbox request n (default 1)
  /invite <id> <room>   invite a friend to your room
  /join <host>          join host's room
  /kick <id>            disconnect a peer
  /leave                disconnect from everyone
  /peers                list connected peers
  /friends              list friends
  /whoami               show your identity
  /quit                 exit
anything else is sent as chat`

var errQuit = errors.New("quit")

// FriendBook persists friends of the local identity. friends.Service implements it.
type FriendBook interface {
	Add(ctx context.Context, owner, friend identity.Identity) (*store.Friend, error)
	List(ctx context.Context, ownerID string) ([]*store.Friend, error)
}

// Console drives one session from a line-oriented terminal.
type Console struct {
	session *core.Session
	friends FriendBook
	in      io.Reader
	log     *zerolog.Logger

	mu    sync.Mutex
	out   io.Writer
	inbox []*core.InboxRequest
}

// New creates a console for an initialized session.
func New(session *core.Session, friends FriendBook, in io.Reader, out io.Writer, logger *zerolog.Logger) *Console {
	return &Console{
		session: session,
		friends: friends,
		in:      in,
		out:     out,
		log:     applog.Component(logger, "console"),
	}
}

// Run processes input until /quit, end of input or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	self, _ := c.session.Identity()
	c.printf("signed in as %s (%s). /help lists commands.\n", self.ID, self.DisplayName)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.eventLoop(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Exec runs one input line.
func (c *Console) Exec(ctx context.Context, line string) error {
	text := strings.TrimSpace(line)
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "/") {
		return c.chat(ctx, text)
	}

	fields := strings.Fields(text)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		c.printf("%s\n", helpText)
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/friend":
		if len(args) != 1 {
			return errors.New("usage: /friend <id>")
		}
		return c.session.SendFriendRequest(ctx, args[0])
	case "/accept":
		return c.answer(ctx, args, true)
	case "/decline":
		return c.answer(ctx, args, false)
	case "/invite":
		if len(args) != 2 {
			return errors.New("usage: /invite <id> <room>")
		}
		return c.session.InviteToRoom(ctx, args[0], args[1])
	case "/join":
		if len(args) != 1 {
			return errors.New("usage: /join <host>")
		}
		return c.session.ConnectToRoom(ctx, args[0])
	case "/kick":
		if len(args) != 1 {
			return errors.New("usage: /kick <id>")
		}
		return c.session.DisconnectPeer(ctx, identity.Normalize(args[0]))
	case "/leave":
		return c.session.Disconnect(ctx)
	case "/peers":
		return c.peers(ctx)
	case "/friends":
		return c.listFriends(ctx)
	case "/whoami":
		self, ok := c.session.Identity()
		if !ok {
			return errors.New("not initialized")
		}
		c.printf("%s (%s), role %s\n", self.ID, self.DisplayName, c.session.Role())
		return nil
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
}

func (c *Console) chat(ctx context.Context, text string) error {
	self, _ := c.session.Identity()
	peers, err := c.session.Peers(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		c.printf("nobody is listening, /join a room or /invite a friend\n")
		return nil
	}
	return c.session.Send(ctx, proto.ChatMessage{From: self.ID, Content: text, TS: time.Now().Unix()})
}

// answer accepts or declines the n-th inbox request, 1-based.
func (c *Console) answer(ctx context.Context, args []string, accept bool) error {
	n := 1
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("bad request number %q", args[0])
		}
	}

	c.mu.Lock()
	if n < 1 || n > len(c.inbox) {
		c.mu.Unlock()
		return fmt.Errorf("no request #%d in the inbox", n)
	}
	req := c.inbox[n-1]
	c.inbox = append(c.inbox[:n-1], c.inbox[n:]...)
	c.mu.Unlock()

	if !accept {
		return c.session.DeclineRequest(ctx, req.Conn)
	}

	switch req.Kind {
	case core.RequestFriend:
		if err := c.session.AcceptFriend(ctx, req.Conn); err != nil {
			return err
		}
		c.addFriend(ctx, req.From)
		return nil
	case core.RequestRoom:
		return c.session.ConnectToRoom(ctx, req.From.ID)
	}
	return nil
}

func (c *Console) peers(ctx context.Context) error {
	peers, err := c.session.Peers(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		c.printf("no peers connected\n")
		return nil
	}
	c.printf("%s of %d: %s\n", c.session.Role(), len(peers), strings.Join(peers, ", "))
	return nil
}

func (c *Console) listFriends(ctx context.Context) error {
	self, ok := c.session.Identity()
	if !ok {
		return errors.New("not initialized")
	}
	list, err := c.friends.List(ctx, self.ID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		c.printf("no friends yet, /friend <id> to add one\n")
		return nil
	}
	for _, f := range list {
		c.printf("  %s (%s) since %s\n", f.FriendID, f.DisplayName, f.AddedAt.Local().Format(time.DateOnly))
	}
	return nil
}

func (c *Console) addFriend(ctx context.Context, friend identity.Identity) {
	self, ok := c.session.Identity()
	if !ok {
		return
	}
	if _, err := c.friends.Add(ctx, self, friend); err != nil {
		c.log.Warn().Err(err).Str("friend_id", friend.ID).Msg("persist friend failed")
		return
	}
	c.printf("%s is now your friend\n", friend.ID)
}

func (c *Console) eventLoop(ctx context.Context) {
	for {
		select {
		case ev := <-c.session.Events():
			c.render(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Console) render(ctx context.Context, ev *core.Event) {
	switch ev.Kind {
	case core.EventMessage:
		var msg proto.ChatMessage
		if err := json.Unmarshal(ev.Message, &msg); err != nil || msg.Content == "" {
			c.printf("[%s] %s\n", ev.From, ev.Message)
			return
		}
		from := msg.From
		if from == "" {
			from = ev.From
		}
		c.printf("[%s] %s\n", from, msg.Content)
	case core.EventStatus:
		c.renderStatus(ev)
	case core.EventInbox:
		c.mu.Lock()
		c.inbox = append(c.inbox, ev.Request)
		n := len(c.inbox)
		c.mu.Unlock()

		req := ev.Request
		switch req.Kind {
		case core.RequestFriend:
			c.printf("#%d friend request from %s (%s), /accept %d or /decline %d\n", n, req.From.ID, req.From.DisplayName, n, n)
		case core.RequestRoom:
			c.printf("#%d %s invites you to room %q, /accept %d or /decline %d\n", n, req.From.ID, req.RoomID, n, n)
		}
	case core.EventFriendAdded:
		if ev.Friend != nil {
			c.addFriend(ctx, *ev.Friend)
		}
	case core.EventConnectionsChanged:
		c.log.Debug().Strs("peers", ev.Peers).Msg("connections changed")
	}
}

func (c *Console) renderStatus(ev *core.Event) {
	switch ev.Status {
	case core.StatusReady:
		c.printf("online\n")
	case core.StatusTaken:
		c.printf("this id is already online elsewhere\n")
	case core.StatusReqSent:
		c.printf("friend request sent to %s\n", ev.From)
	case core.StatusConnected:
		c.printf("connected to %s\n", ev.From)
	case core.StatusError:
		if ev.From != "" {
			c.printf("connection to %s failed: %v\n", ev.From, ev.Err)
			return
		}
		c.printf("error: %v\n", ev.Err)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, format, args...); err != nil {
		c.log.Debug().Err(err).Msg("write output")
	}
}
