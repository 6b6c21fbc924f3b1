package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// ErrServerClosed is returned when a stream is handed to a server that has
// been shut down.
var ErrServerClosed = errors.New("chat server closed")

// Server accepts chat connections, runs one worker per connection and the
// liveness monitor. Streams may come from its own TCP listener or from any
// other transport through Accept.
type Server struct {
	cfg      Config
	building *chat.Building
	auth     chat.Authenticator
	log      zerolog.Logger
	monitor  *Monitor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[*chat.Connection]struct{}
	addr   net.Addr
	closed bool
}

// New returns a server for building that checks logins with auth.
func New(cfg *Config, building *chat.Building, auth chat.Authenticator, logger zerolog.Logger) *Server {
	c := sanitizeConfig(*cfg)
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("component", "server").Logger()

	return &Server{
		cfg:      c,
		building: building,
		auth:     auth,
		log:      logger,
		monitor:  NewMonitor(building, c.KeepAliveInterval, c.IdleThreshold, logger),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[*chat.Connection]struct{}),
	}
}

// Building returns the served building.
func (s *Server) Building() *chat.Building {
	return s.building
}

// Monitor returns the liveness monitor.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Addr returns the listener address once Serve has started, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenAndServe listens on the configured chat address and serves until ctx
// is cancelled or the server is shut down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ChatAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ChatAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln and the liveness monitor. It returns nil
// once ctx is cancelled or Shutdown is called, and closes ln either way.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.addr = ln.Addr()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("chat server listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		return s.monitor.Run(gctx)
	})
	g.Go(func() error {
		var delay time.Duration
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				if errors.Is(err, net.ErrClosed) {
					return fmt.Errorf("accept: %w", err)
				}
				delay = acceptBackoff(delay)
				s.log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(delay):
				}
				continue
			}
			delay = 0
			if err := s.accept(conn, conn.RemoteAddr().String(), "tcp"); err != nil {
				s.log.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("refusing connection")
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.log.Info().Msg("chat server stopped accepting")
	return err
}

// Accept wraps stream as a connection in the building's start room and
// starts its worker. The stream is closed if it cannot be accepted.
func (s *Server) Accept(stream io.ReadWriteCloser, addr string) error {
	return s.accept(stream, addr, "stream")
}

func (s *Server) accept(stream io.ReadWriteCloser, addr, transport string) error {
	room, err := s.building.StartRoom()
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("select start room: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = stream.Close()
		return ErrServerClosed
	}

	conn := chat.NewConnection(stream, room, chat.ConnectionOptions{
		Addr:           addr,
		Logger:         s.log,
		MaxMessageSize: s.cfg.MaxMessageSize,
		SendBuffer:     s.cfg.SendBuffer,
	})
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.ConnectionsTotal.WithLabelValues(transport).Inc()
	metrics.ConnectionsActive.Inc()

	handler := chat.NewHandler(conn, s.auth, s.log)
	go func() {
		defer s.wg.Done()
		defer metrics.ConnectionsActive.Dec()
		defer s.remove(conn)

		if err := handler.Serve(s.ctx); err != nil {
			s.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("worker finished with error")
		}
		conn.Wait()
	}()
	return nil
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptBackoff returns the wait after a failed Accept, doubling from
// minAcceptDelay up to maxAcceptDelay.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(prev*2, maxAcceptDelay)
}

func (s *Server) remove(conn *chat.Connection) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Shutdown stops accepting, tells room members with a Kick, closes every
// connection and waits for their workers to finish. It returns
// context.DeadlineExceeded if they have not finished within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info().Msg("initiating chat server shutdown")

	s.mu.Lock()
	s.closed = true
	conns := make([]*chat.Connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, room := range s.building.Rooms() {
		room.Broadcast(protocol.Kick{Text: "Server is shutting down."})
	}
	s.cancel()
	for _, conn := range conns {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Int("connections", len(conns)).Msg("chat server shutdown completed")
		return nil
	case <-time.After(timeout):
		s.log.Warn().Msg("chat server shutdown timeout reached, some workers may still be running")
		return context.DeadlineExceeded
	}
}
