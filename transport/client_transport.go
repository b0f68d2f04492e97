// Package transport implements the client side of the TCP frame protocol with
// multiplexing and heartbeat.
//
// ClientTransport carries many concurrent calls over a single connection. Each
// request travels in a frame whose sequence number is the request id, and a
// background goroutine (recvLoop) routes every response frame to the caller
// waiting on that id.
//
//	goroutine-1 ──Send(id=7)──┐
//	goroutine-2 ──Send(id=9)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(id=4)──┘
//
//	recvLoop:  ←── response(seq=9) → pending[9] chan → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"tiny-rpc/codec"
	"tiny-rpc/message"
	"tiny-rpc/protocol"
)

const DefaultHeartbeat = 30 * time.Second

var (
	ErrClosed      = errors.New("transport: connection closed")
	ErrDuplicateID = errors.New("transport: request id already in flight")
)

type result struct {
	resp *message.Response
	err  error
}

// ClientTransport manages a single multiplexed connection. It implements
// rpc.Sender.
type ClientTransport struct {
	conn      net.Conn
	codec     codec.Codec
	logger    *zap.Logger
	heartbeat time.Duration

	mu      sync.Mutex
	pending map[uint64]chan result // request id → waiting caller
	err     error                  // set once the connection is gone

	sending sync.Mutex // serializes whole frames on conn

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*ClientTransport)

func WithLogger(l *zap.Logger) Option {
	return func(t *ClientTransport) { t.logger = l }
}

// WithHeartbeat sets the heartbeat interval. Zero or less disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(t *ClientTransport) { t.heartbeat = d }
}

// NewClientTransport takes ownership of conn and starts two background
// goroutines:
//   - recvLoop: reads response frames and hands them to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, codecType codec.CodecType, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:      conn,
		codec:     codec.GetCodec(codecType),
		logger:    zap.NewNop(),
		heartbeat: DefaultHeartbeat,
		pending:   make(map[uint64]chan result),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop(t.heartbeat)
	}
	return t
}

// Dial connects to addr over TCP and wraps the connection.
func Dial(ctx context.Context, addr string, codecType codec.CodecType, opts ...Option) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientTransport(conn, codecType, opts...), nil
}

// Send writes req and blocks until its response arrives, ctx is done, or the
// connection breaks. A response that arrives after ctx is done is dropped.
func (t *ClientTransport) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	body, err := t.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	// Register the caller before writing so recvLoop can never miss the reply.
	ch := make(chan result, 1)
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return nil, t.err
	}
	if _, ok := t.pending[req.ID]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, req.ID)
	}
	t.pending[req.ID] = ch
	t.mu.Unlock()

	header := protocol.Header{
		CodecType: byte(t.codec.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       req.ID,
	}
	t.sending.Lock()
	err = protocol.Encode(t.conn, &header, body)
	t.sending.Unlock()
	if err != nil {
		t.forget(req.ID)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		t.forget(req.ID)
		return nil, ctx.Err()
	}
}

func (t *ClientTransport) forget(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// recvLoop is the only reader of conn; frames must be read sequentially to
// keep their boundaries.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[header.Seq]
		delete(t.pending, header.Seq)
		t.mu.Unlock()
		if !ok {
			t.logger.Debug("drop response for unknown id", zap.Uint64("id", header.Seq))
			continue
		}

		var resp message.Response
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &resp); err != nil {
			ch <- result{err: fmt.Errorf("transport: decode response %d: %w", header.Seq, err)}
			continue
		}
		ch <- result{resp: &resp}
	}
}

// fail records the first connection error and wakes every pending caller with
// it.
func (t *ClientTransport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	select {
	case <-t.done:
		t.err = ErrClosed
	default:
		t.err = fmt.Errorf("%w: %v", ErrClosed, err)
		t.logger.Warn("connection lost", zap.String("remote", t.conn.RemoteAddr().String()), zap.Error(err))
	}
	for id, ch := range t.pending {
		ch <- result{err: t.err}
		delete(t.pending, id)
	}
}

// heartbeatLoop sends a bodiless heartbeat frame every interval until the
// transport is closed or a write fails.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-t.done:
			return
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return
		}
	}
}

// Err reports why the transport stopped, or nil while it is usable.
func (t *ClientTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
		t.fail(ErrClosed)
	})
	return err
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}
