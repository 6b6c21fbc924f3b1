package chat

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

const (
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second
)

// ConnectionOptions tunes a Connection. Zero values select defaults.
type ConnectionOptions struct {
	// Addr identifies the peer in logs.
	Addr string
	// Logger is the parent logger; the connection adds its own fields.
	Logger zerolog.Logger
	// MaxMessageSize bounds one inbound protocol line in bytes.
	MaxMessageSize int
	// SendBuffer is the number of outbound messages that may be queued.
	SendBuffer int
	// WriteTimeout bounds a single write when the stream supports deadlines.
	WriteTimeout time.Duration
	// Now is the liveness clock.
	Now func() time.Time
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Connection is a client session layered over a bidirectional stream. It is
// created owned by a start room, reads are done by a single worker through
// Recv, and writes are queued by Send and performed by the connection's own
// write pump.
type Connection struct {
	id           string
	addr         string
	stream       io.ReadWriteCloser
	decoder      *protocol.Decoder
	log          zerolog.Logger
	now          func() time.Time
	writeTimeout time.Duration

	send     chan protocol.Message
	quit     chan struct{}
	pumpDone chan struct{}

	mu       sync.RWMutex
	userName string
	room     *Room

	lastAlive atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewConnection wraps stream as a connection bound to room, stamps its
// liveness and starts its write pump. The connection is not a member of room
// until it logs in.
func NewConnection(stream io.ReadWriteCloser, room *Room, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Addr == "" {
		opts.Addr = remoteAddr(stream)
	}

	id := uuid.NewString()
	c := &Connection{
		id:           id,
		addr:         opts.Addr,
		stream:       stream,
		decoder:      protocol.NewDecoder(stream, opts.MaxMessageSize),
		log:          opts.Logger.With().Str("conn_id", id).Str("remote_addr", opts.Addr).Logger(),
		now:          opts.Now,
		writeTimeout: opts.WriteTimeout,
		send:         make(chan protocol.Message, opts.SendBuffer),
		quit:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
		room:         room,
	}
	c.Touch()

	go c.writePump()
	return c
}

func remoteAddr(stream io.ReadWriteCloser) string {
	if nc, ok := stream.(interface{ RemoteAddr() net.Addr }); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return "unknown"
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) String() string {
	return c.addr
}

// UserName returns the logged-in user name, or "" before login.
func (c *Connection) UserName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userName
}

// Authorized reports whether the connection has logged in.
func (c *Connection) Authorized() bool {
	return c.UserName() != ""
}

func (c *Connection) setUserName(name string) {
	c.mu.Lock()
	c.userName = name
	c.log = c.log.With().Str("user", name).Logger()
	c.mu.Unlock()
}

// Room returns the room the connection currently belongs to.
func (c *Connection) Room() *Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Connection) setRoom(r *Room) {
	c.mu.Lock()
	c.room = r
	c.mu.Unlock()
}

func (c *Connection) logger() *zerolog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l := c.log
	return &l
}

// Touch records that the peer is alive.
func (c *Connection) Touch() {
	c.lastAlive.Store(c.now().UnixNano())
}

// LastAlive returns when the peer was last heard from.
func (c *Connection) LastAlive() time.Time {
	return time.Unix(0, c.lastAlive.Load())
}

// IdleFor returns how long the peer has been silent at now.
func (c *Connection) IdleFor(now time.Time) time.Duration {
	return now.Sub(c.LastAlive())
}

// Move walks through the door to roomName. It leaves the current room with a
// LeftRoom naming the destination, enters the destination and reports
// success. Without such a door nothing changes.
func (c *Connection) Move(roomName string) bool {
	current := c.Room()
	next := current.FindDoor(roomName)
	if next == nil {
		return false
	}
	if !current.RemoveConnection(c, roomName) {
		return false
	}
	c.setRoom(next)
	return next.AddConnection(c)
}

// Send queues m for the peer without blocking. It returns false when the
// connection is closed or its queue is full.
func (c *Connection) Send(m protocol.Message) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		c.logger().Warn().Str("kind", string(m.Kind())).Msg("send queue full")
		return false
	}
}

// Recv blocks until the next message arrives. It returns io.EOF at end of
// stream and a *protocol.DecodeError for a malformed line.
func (c *Connection) Recv() (protocol.Message, error) {
	m, err := c.decoder.Decode()
	if err != nil {
		return nil, err
	}
	c.logger().Debug().Str("line", c.decoder.LastLine()).Msg("recv")
	return m, nil
}

// Kick tells the peer why it is being dropped and closes the connection.
func (c *Connection) Kick(reason string) {
	c.Send(protocol.Kick{Text: reason})
	c.Close()
}

// Close ends the session. It is idempotent and safe to call from any
// goroutine: the first call removes the connection from its room, lets the
// write pump flush what is already queued, and closes the stream, which
// unblocks a pending Recv.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if r := c.Room(); r != nil {
			r.RemoveConnection(c, "")
		}
		close(c.quit)
		c.logger().Info().Msg("closing connection")
	})
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.quit
}

// Wait blocks until the write pump has flushed and the stream is closed.
func (c *Connection) Wait() {
	<-c.pumpDone
}

func (c *Connection) writePump() {
	defer close(c.pumpDone)
	defer c.closeStream()

	enc := protocol.NewEncoder(c.stream)
	for {
		select {
		case m := <-c.send:
			if err := c.write(enc, m); err != nil {
				c.logWriteError(err)
				c.Close()
				return
			}
		case <-c.quit:
			c.flush(enc)
			return
		}
	}
}

// flush writes whatever is still queued, so that a Kick or LoggedOut sent
// right before Close reaches the peer.
func (c *Connection) flush(enc *protocol.Encoder) {
	for {
		select {
		case m := <-c.send:
			if err := c.write(enc, m); err != nil {
				c.logWriteError(err)
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(enc *protocol.Encoder, m protocol.Message) error {
	if d, ok := c.stream.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if err := enc.Encode(m); err != nil {
		return err
	}
	c.logger().Debug().Str("kind", string(m.Kind())).Msg("send")
	return nil
}

func (c *Connection) closeStream() {
	if err := c.stream.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger().Warn().Err(err).Msg("error closing stream")
	}
}

func (c *Connection) logWriteError(err error) {
	if isExpectedCloseError(err) {
		c.logger().Debug().Err(err).Msg("write on closed stream")
		return
	}
	c.logger().Warn().Err(err).Msg("write failed")
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
