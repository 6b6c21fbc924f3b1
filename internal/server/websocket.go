package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// wsStream presents a WebSocket as the newline-delimited byte stream the chat
// connection expects. Each inbound text frame is one protocol line and each
// outbound line is sent as its own text frame.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

func newWSStream(conn *websocket.Conn, maxMessageSize int) *wsStream {
	conn.SetReadLimit(int64(maxMessageSize))
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			messageType, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					return 0, io.EOF
				}
				return 0, err
			}
			if messageType != websocket.TextMessage {
				continue
			}
			s.reader = io.MultiReader(r, bytes.NewReader([]byte{'\n'}))
		}

		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends every complete line in p as a text frame.
func (s *wsStream) Write(p []byte) (int, error) {
	for line := range bytes.Lines(p) {
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (s *wsStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func (s *wsStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close sends a close frame and closes the underlying connection.
func (s *wsStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil && !isExpectedCloseError(err) {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
