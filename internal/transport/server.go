package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/logger"
)

// DefaultMaxConns caps concurrently served connections when none is given.
const DefaultMaxConns = 64

// DefaultIdleTimeout is how long a connection may sit without sending a
// request before the server drops it.
const DefaultIdleTimeout = time.Minute

// Server reads request frames from TCP connections and answers them with a
// Handler. At most maxConns connections are served at once; further ones
// wait in the listen backlog until a slot frees up.
type Server struct {
	handler Handler
	log     logger.Logger
	slots   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	idle   time.Duration
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(h Handler, maxConns int, log logger.Logger) *Server {
	if maxConns < 1 {
		maxConns = DefaultMaxConns
	}
	if log == nil {
		log = logger.Discard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler: h,
		log:     log,
		slots:   make(chan struct{}, maxConns),
		ctx:     ctx,
		cancel:  cancel,
		idle:    DefaultIdleTimeout,
		conns:   make(map[net.Conn]struct{}),
	}
}

// SetIdleTimeout changes how long a connection may wait between requests.
// Zero disables the limit. It affects connections accepted afterwards.
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	s.idle = d
	s.mu.Unlock()
}

// Serve accepts connections on ln until Close. It returns nil after Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		select {
		case s.slots <- struct{}{}:
		case <-s.ctx.Done():
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.slots
			if s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}

		idle, ok := s.track(conn)
		if !ok {
			<-s.slots
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.slots }()
			defer s.untrack(conn)
			s.serveConn(conn, idle)
		}()
	}
}

// Addr is the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) track(c net.Conn) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	s.conns[c] = struct{}{}
	return s.idle, true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

// serveConn answers frames until the peer hangs up, goes quiet for longer
// than idle, sends something unreadable, or a request cannot be
// acknowledged.
func (s *Server) serveConn(c net.Conn, idle time.Duration) {
	remote := c.RemoteAddr()
	for {
		if idle > 0 {
			if err := c.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return
			}
		}
		m, err := ReadMessage(c)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.log.Debug(logger.DNetwork, "drop connection from %v: %v", remote, err)
			}
			return
		}

		r, err := s.handler.Handle(s.ctx, m)
		if err != nil || r == nil {
			s.log.Debug(logger.DWarn, "no reply to %s from %v: %v", m.Type, remote, err)
			return
		}
		if err := WriteFrame(c, r); err != nil {
			s.log.Debug(logger.DNetwork, "reply to %v: %v", remote, err)
			return
		}
	}
}

// Close stops accepting, drops open connections and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
