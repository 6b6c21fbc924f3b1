// Package testhelpers provides common utilities for testing the chat server.
//
// It contains a protocol Peer that drives the remote end of a chat stream,
// reading and writing newline-delimited messages with deadlines, so package
// tests can assert on exactly what a client would see.
package testhelpers

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// DefaultTimeout bounds every blocking Peer operation.
const DefaultTimeout = 2 * time.Second

// Logger returns a logger for tests. It is silent unless TEST_LOG is set.
func Logger() zerolog.Logger {
	if os.Getenv("TEST_LOG") == "" {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// AuthFunc adapts a function to the chat Authenticator interface.
type AuthFunc func(userName, password string) bool

// Allowed implements the chat Authenticator interface.
func (f AuthFunc) Allowed(_ context.Context, userName, password string) bool {
	return f(userName, password)
}

// Credentials returns an authenticator accepting exactly the given pairs.
func Credentials(pairs map[string]string) AuthFunc {
	return func(userName, password string) bool {
		want, ok := pairs[userName]
		return ok && want == password
	}
}

// Peer is the remote end of a chat stream.
type Peer struct {
	conn   net.Conn
	reader *bufio.Reader
	enc    *protocol.Encoder
}

// NewPeer wraps conn.
func NewPeer(conn net.Conn) *Peer {
	return &Peer{
		conn:   conn,
		reader: bufio.NewReader(conn),
		enc:    protocol.NewEncoder(conn),
	}
}

// Pipe returns an in-memory stream for the server side and a Peer on the
// other end. The peer is closed when the test ends.
func Pipe(t *testing.T) (net.Conn, *Peer) {
	t.Helper()
	server, client := net.Pipe()
	peer := NewPeer(client)
	t.Cleanup(peer.Close)
	return server, peer
}

// Dial connects a Peer to a TCP address. The peer is closed when the test ends.
func Dial(t *testing.T, addr string) *Peer {
	t.Helper()
	dialer := net.Dialer{Timeout: DefaultTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	peer := NewPeer(conn)
	t.Cleanup(peer.Close)
	return peer
}

// Send writes one message.
func (p *Peer) Send(t *testing.T, m protocol.Message) {
	t.Helper()
	_ = p.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout))
	if err := p.enc.Encode(m); err != nil {
		t.Fatalf("Failed to send %s: %v", m.Kind(), err)
	}
}

// SendRaw writes one raw line.
func (p *Peer) SendRaw(t *testing.T, line string) {
	t.Helper()
	_ = p.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout))
	if _, err := p.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Failed to send raw line: %v", err)
	}
}

// TrySend writes one message and returns the error instead of failing the
// test, so it can be used off the test goroutine.
func (p *Peer) TrySend(m protocol.Message) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout))
	return p.enc.Encode(m)
}

// TrySendRaw writes one raw line and returns the error.
func (p *Peer) TrySendRaw(line string) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout))
	_, err := p.conn.Write([]byte(line + "\n"))
	return err
}

// Next reads the next message, waiting at most d.
func (p *Peer) Next(d time.Duration) (protocol.Message, error) {
	return p.read(d)
}

// Receive reads the next message, failing the test after DefaultTimeout.
func (p *Peer) Receive(t *testing.T) protocol.Message {
	t.Helper()
	m, err := p.read(DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to receive message: %v", err)
	}
	return m
}

// ExpectNothing fails the test if a message arrives within d.
func (p *Peer) ExpectNothing(t *testing.T, d time.Duration) {
	t.Helper()
	m, err := p.read(d)
	if err == nil {
		t.Fatalf("Expected no message, got %s: %+v", m.Kind(), m)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Expected read timeout, got %v", err)
	}
}

// ExpectClosed fails the test unless the stream ends within DefaultTimeout.
func (p *Peer) ExpectClosed(t *testing.T) {
	t.Helper()
	for {
		m, err := p.read(DefaultTimeout)
		if err == nil {
			t.Logf("Draining %s before close", m.Kind())
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("Expected stream to close, still open")
		}
		return
	}
}

// Close closes the peer's end of the stream.
func (p *Peer) Close() {
	_ = p.conn.Close()
}

func (p *Peer) read(timeout time.Duration) (protocol.Message, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return protocol.Decode(line)
}

// Expect reads the next message and asserts it is a T.
func Expect[T protocol.Message](t *testing.T, p *Peer) T {
	t.Helper()
	m := p.Receive(t)
	got, ok := m.(T)
	if !ok {
		var want T
		t.Fatalf("Expected %s, got %s: %+v", want.Kind(), m.Kind(), m)
	}
	return got
}

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that is closed when the test ends.
func CreateTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendWebSocket writes one protocol message as a text frame.
func SendWebSocket(conn *websocket.Conn, m protocol.Message) error {
	line, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, line)
}

// ReceiveWebSocket reads one protocol message from a text frame.
func ReceiveWebSocket(conn *websocket.Conn) (protocol.Message, error) {
	_ = conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
