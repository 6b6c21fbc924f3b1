package chat

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Authenticator decides whether a user name and password may log in.
type Authenticator interface {
	Allowed(ctx context.Context, userName, password string) bool
}

// Handler is the protocol state machine of one connection. Until a Login
// succeeds only Login is accepted; anything else gets the connection kicked.
// After login, Alive and Logout are handled here and Go, ListDoors and Public
// are delegated to the current room.
type Handler struct {
	conn *Connection
	auth Authenticator
	log  zerolog.Logger
}

// NewHandler returns the handler for conn.
func NewHandler(conn *Connection, auth Authenticator, logger zerolog.Logger) *Handler {
	return &Handler{
		conn: conn,
		auth: auth,
		log:  logger.With().Str("component", "handler").Str("conn_id", conn.ID()).Logger(),
	}
}

// Serve reads and handles messages until the peer hangs up, the connection is
// closed, or ctx is cancelled. The connection is always closed on return. A
// malformed line gets the peer kicked and is returned as the error.
func (h *Handler) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, h.conn.Close)
	defer stop()
	defer h.conn.Close()

	h.log.Info().Str("remote_addr", h.conn.String()).Msg("accepting connection")
	for {
		msg, err := h.conn.Recv()
		if err != nil {
			return h.readError(err)
		}

		h.Handle(ctx, msg)
		if h.conn.Closed() {
			return nil
		}
	}
}

func (h *Handler) readError(err error) error {
	if h.conn.Closed() || errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		h.log.Debug().Err(err).Msg("connection ended")
		return nil
	}

	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) {
		h.log.Warn().Err(err).Msg("malformed message")
		metrics.Kicks.WithLabelValues("malformed").Inc()
		h.conn.Kick(fmt.Sprintf("Couldn't understand message: %v", decodeErr.Err))
		return err
	}

	h.log.Warn().Err(err).Msg("read failed")
	return err
}

// Handle processes one message. Exactly one of the login gate, the
// authenticated dispatch, or the ignore branch applies.
func (h *Handler) Handle(ctx context.Context, msg protocol.Message) {
	h.conn.Touch()
	metrics.MessagesReceived.WithLabelValues(string(msg.Kind())).Inc()

	if h.loginRelated(ctx, msg) {
		return
	}

	switch m := msg.(type) {
	case protocol.Alive:
		// Touch above already refreshed liveness.
	case protocol.Logout:
		h.conn.Room().RemoveConnection(h.conn, "")
		h.conn.Send(protocol.LoggedOut{})
		h.conn.Close()
	case protocol.Go, protocol.ListDoors, protocol.Public:
		h.conn.Room().Process(h.conn, m)
	default:
		h.log.Warn().Str("kind", string(msg.Kind())).Msg("didn't expect message")
	}
}

// loginRelated reports whether msg was consumed by the login gate: either it
// was a Login, or the connection is not authorized yet and got kicked.
func (h *Handler) loginRelated(ctx context.Context, msg protocol.Message) bool {
	if login, ok := msg.(protocol.Login); ok {
		h.login(ctx, login)
		return true
	}
	if !h.conn.Authorized() {
		metrics.Kicks.WithLabelValues("unauthorized").Inc()
		h.log.Info().Str("kind", string(msg.Kind())).Msg("kicking unauthorized connection")
		h.conn.Kick(fmt.Sprintf("Unauthorized connections aren't allowed to send '%s'!", msg.Kind()))
		return true
	}
	return false
}

func (h *Handler) login(ctx context.Context, m protocol.Login) {
	if m.UserName == "" || !h.auth.Allowed(ctx, m.UserName, m.Password) {
		metrics.Logins.WithLabelValues("wrong").Inc()
		h.log.Info().Str("user", m.UserName).Msg("login refused")
		h.conn.Send(protocol.LoginWrong{})
		return
	}

	room := h.conn.Room()
	if h.conn.Authorized() {
		room.RemoveConnection(h.conn, "")
	}
	h.conn.setUserName(m.UserName)
	h.log = h.log.With().Str("user", m.UserName).Logger()

	metrics.Logins.WithLabelValues("ok").Inc()
	h.log.Info().Str("room", room.Name()).Msg("login granted")
	h.conn.Send(protocol.LoginOK{})
	room.AddConnection(h.conn)
}
