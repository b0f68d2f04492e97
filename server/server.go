// Package server exposes an rpc.Manager over TCP using the frame protocol.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → Manager.Handle → Codec.Encode → write response
//
// Responses are encoded with the codec the request arrived in.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tiny-rpc/codec"
	"tiny-rpc/message"
	"tiny-rpc/middleware"
	"tiny-rpc/protocol"
	"tiny-rpc/registry"
	"tiny-rpc/rpc"
)

const (
	DefaultTTL = 10 // seconds

	registryTimeout = 5 * time.Second
)

var ErrServerClosed = errors.New("server: closed")

// Server serves the endpoints registered in a Manager.
type Server struct {
	manager *rpc.Manager
	logger  *zap.Logger

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(manager.Handle)))

	registry      registry.Registry // nil if not using discovery
	advertiseAddr string            // routable address put in the registry, e.g. "10.0.0.5:8080"
	ttl           int64
	weight        int

	mu         sync.Mutex // also orders shutdown against inflight.Add
	listener   net.Listener
	conns      map[net.Conn]struct{}
	advertised []string // endpoint names put in the registry

	inflight sync.WaitGroup // in-flight requests
	shutdown atomic.Bool

	// baseCtx is the parent of every request context; cancelled when a
	// shutdown gives up waiting.
	baseCtx context.Context
	cancel  context.CancelFunc
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry advertises every endpoint of the manager under advertiseAddr
// once the server is listening. An empty advertiseAddr uses the listener
// address, which is only routable when the server listens on a concrete IP.
func WithRegistry(reg registry.Registry, advertiseAddr string) Option {
	return func(s *Server) {
		s.registry = reg
		s.advertiseAddr = advertiseAddr
	}
}

// WithTTL sets the registry lease in seconds.
func WithTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

// WithWeight sets the load balancing weight advertised for this server.
func WithWeight(w int) Option {
	return func(s *Server) { s.weight = w }
}

func NewServer(m *rpc.Manager, opts ...Option) *Server {
	s := &Server{
		manager: m,
		logger:  zap.NewNop(),
		ttl:     DefaultTTL,
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Use registers a middleware. Middlewares apply in the order they are added
// and must be registered before serving.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on the given address and serves until Shutdown.
func (s *Server) Serve(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(l)
}

// ServeListener serves connections accepted from l until Shutdown, which makes
// it return nil. Endpoints are advertised before the accept loop starts.
func (s *Server) ServeListener(l net.Listener) error {
	if s.shutdown.Load() {
		l.Close()
		return ErrServerClosed
	}

	// Build the chain once at startup, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.manager.Handle)

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	if err := s.advertise(l.Addr().String()); err != nil {
		l.Close()
		return err
	}
	s.logger.Info("serving", zap.String("addr", l.Addr().String()), zap.Strings("endpoints", s.manager.Names()))

	for {
		conn, err := l.Accept()
		if err != nil {
			// Shutdown closes the listener, which surfaces here as an error.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) advertise(listenAddr string) error {
	if s.registry == nil {
		return nil
	}
	addr := s.advertiseAddr
	if addr == "" {
		addr = listenAddr
		s.advertiseAddr = addr
	}
	instance := registry.ServiceInstance{Addr: addr, Weight: s.weight, Version: s.manager.Version()}

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	for _, name := range s.manager.Names() {
		if err := s.registry.Register(ctx, name, instance, s.ttl); err != nil {
			return fmt.Errorf("server: advertise %s: %w", name, err)
		}
		s.mu.Lock()
		s.advertised = append(s.advertised, name)
		s.mu.Unlock()
	}
	return nil
}

// handleConn reads frames sequentially and runs each request in its own
// goroutine, so a slow call never blocks the ones behind it. All responses on
// a connection share one write lock.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !s.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection closed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}
		// Checked under mu so no Add can follow the Wait in Shutdown.
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()
		go s.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest decodes, dispatches and answers one request. A body that
// cannot be decoded is answered with an error response keyed by the frame
// sequence.
func (s *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer s.inflight.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var resp *message.Response
	var req message.Request
	if err := c.Decode(body, &req); err != nil {
		resp = message.NewError(header.Seq, fmt.Sprintf("invalid request: %v", err))
		resp.Version = s.manager.Version()
	} else {
		resp = s.handler(s.baseCtx, &req)
	}

	out, err := c.Encode(resp)
	if err != nil {
		s.logger.Error("encode response", zap.Uint64("id", header.Seq), zap.Error(err))
		out, err = c.Encode(message.NewError(resp.ID, fmt.Sprintf("unencodable result: %v", err)))
		if err != nil {
			return
		}
	}

	// The reply keeps the request's seq; that is how the client demultiplexes.
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	writeMu.Lock()
	err = protocol.Encode(conn, &replyHeader, out)
	writeMu.Unlock()
	if err != nil {
		s.logger.Debug("write response", zap.Uint64("id", header.Seq), zap.Error(err))
	}
}

// Shutdown performs a graceful shutdown:
//  1. Deregister every advertised endpoint, so clients stop routing here
//  2. Close the listener
//  3. Wait for in-flight requests until ctx is done
//  4. Close the remaining connections
//
// When ctx expires first, request contexts are cancelled and ctx.Err() is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	// Set the flag before closing so Serve reports a clean exit.
	s.mu.Lock()
	s.shutdown.Store(true)
	advertised := s.advertised
	s.advertised = nil
	l := s.listener
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range advertised {
		g.Go(func() error {
			return s.registry.Deregister(gctx, name, s.advertiseAddr)
		})
	}
	deregErr := g.Wait()
	if deregErr != nil {
		s.logger.Warn("deregister", zap.Error(deregErr))
	}

	if l != nil {
		l.Close()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		err = ctx.Err()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.cancel()

	if err != nil {
		return err
	}
	return deregErr
}
