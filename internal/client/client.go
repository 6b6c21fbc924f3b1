// Package client implements the user side of the chat protocol: a login
// handshake, one-way room commands and a listener loop that answers the
// server's keepalive probes.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

var (
	// ErrUnexpectedReply is returned when the server answers a Login with
	// something other than LoginOK or LoginWrong.
	ErrUnexpectedReply = errors.New("unexpected reply")
	// ErrNotLoggedIn is returned by room commands issued before login.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrListening is returned by Login while Listen owns the inbound stream.
	ErrListening = errors.New("listener is running")
)

// Client is one user's connection to a chat server. Commands may be issued
// from any goroutine while Listen runs on another. Login and Listen both read
// the inbound stream, so Login must finish before Listen starts.
type Client struct {
	stream io.ReadWriteCloser
	log    zerolog.Logger

	readMu sync.Mutex
	dec    *protocol.Decoder

	writeMu sync.Mutex
	enc     *protocol.Encoder

	userName atomic.Pointer[string]
}

// Dial connects to a chat server at addr.
func Dial(ctx context.Context, addr string, logger zerolog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, logger), nil
}

// New returns a client speaking over stream.
func New(stream io.ReadWriteCloser, logger zerolog.Logger) *Client {
	return &Client{
		stream: stream,
		dec:    protocol.NewDecoder(stream, 0),
		enc:    protocol.NewEncoder(stream),
		log:    logger.With().Str("component", "client").Logger(),
	}
}

// UserName returns the name the client logged in with, or "".
func (c *Client) UserName() string {
	if name := c.userName.Load(); name != nil {
		return *name
	}
	return ""
}

// LoggedIn reports whether a login succeeded.
func (c *Client) LoggedIn() bool {
	return c.userName.Load() != nil
}

// Login sends the credentials and waits for exactly one reply. It reports
// false for LoginWrong and ErrUnexpectedReply for anything else besides
// LoginOK. A client that is already logged in returns true without sending,
// and ErrListening is returned while Listen is running.
func (c *Client) Login(userName, password string) (bool, error) {
	if c.LoggedIn() {
		return true, nil
	}
	if !c.readMu.TryLock() {
		return false, ErrListening
	}
	defer c.readMu.Unlock()

	if err := c.Send(protocol.Login{UserName: userName, Password: password}); err != nil {
		return false, err
	}

	reply, err := c.dec.Decode()
	if err != nil {
		return false, fmt.Errorf("read login reply: %w", err)
	}
	switch reply.(type) {
	case protocol.LoginOK:
		c.userName.Store(&userName)
		c.log.Info().Str("user", userName).Msg("logged in")
		return true, nil
	case protocol.LoginWrong:
		return false, nil
	default:
		return false, fmt.Errorf("%w: didn't expect message '%s'", ErrUnexpectedReply, reply.Kind())
	}
}

// Public says text to everyone in the current room.
func (c *Client) Public(text string) error {
	return c.command(protocol.Public{Text: text})
}

// Go walks through the door to roomName.
func (c *Client) Go(roomName string) error {
	return c.command(protocol.Go{RoomName: roomName})
}

// ListDoors asks for the current room's doors.
func (c *Client) ListDoors() error {
	return c.command(protocol.ListDoors{})
}

// Logout ends the session; the server answers with LoggedOut.
func (c *Client) Logout() error {
	return c.command(protocol.Logout{})
}

func (c *Client) command(m protocol.Message) error {
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}
	return c.Send(m)
}

// Send writes one message.
func (c *Client) Send(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.enc.Encode(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	c.log.Debug().Str("kind", string(m.Kind())).Msg("send")
	return nil
}

// Listen consumes inbound messages until LoggedOut, end of stream or ctx is
// cancelled. KeepAlive probes are answered with Alive and not passed on;
// every other message, LoggedOut included, is handed to fn. It returns nil
// after LoggedOut. A Login still waiting for its reply finishes first.
func (c *Client) Listen(ctx context.Context, fn func(protocol.Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.stream.Close() })
	defer stop()

	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		m, err := c.dec.Decode()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		switch m.(type) {
		case protocol.KeepAlive:
			if err := c.Send(protocol.Alive{}); err != nil {
				return err
			}
		case protocol.LoggedOut:
			fn(m)
			c.log.Info().Msg("logged out")
			return nil
		default:
			fn(m)
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.stream.Close()
}
