// Package client sends a Manager's requests to whichever server currently
// hosts the addressed endpoint.
//
// Call path:
//
//	Proxy.Call → Manager.Send → Client.Send
//	  → Registry.Discover(endpoint) → Balancer.Pick → transport pool → ClientTransport.Send
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tiny-rpc/codec"
	"tiny-rpc/loadbalance"
	"tiny-rpc/message"
	"tiny-rpc/registry"
	"tiny-rpc/transport"
)

const (
	DefaultPoolSize    = 4
	DefaultDialTimeout = 3 * time.Second
)

var ErrClientClosed = errors.New("client: closed")

// Client implements rpc.Sender on top of service discovery. Every server
// address gets a small pool of multiplexed transports used in round-robin
// order; a transport whose connection broke is redialed on next use.
type Client struct {
	registry    registry.Registry
	balancer    loadbalance.Balancer
	codecType   codec.CodecType
	poolSize    int
	dialTimeout time.Duration
	heartbeat   time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	pools  map[string]*pool // by address
	closed bool
}

// pool is the set of transports for one address.
type pool struct {
	mu    sync.Mutex
	slots []*transport.ClientTransport
	next  atomic.Uint64
}

type Option func(*Client)

func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Client) { c.balancer = b }
}

func WithCodec(ct codec.CodecType) Option {
	return func(c *Client) { c.codecType = ct }
}

// WithPoolSize sets how many connections are kept per server address.
func WithPoolSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(reg registry.Registry, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		balancer:    &loadbalance.RoundRobinBalancer{},
		codecType:   codec.CodecTypeJSON,
		poolSize:    DefaultPoolSize,
		dialTimeout: DefaultDialTimeout,
		heartbeat:   transport.DefaultHeartbeat,
		logger:      zap.NewNop(),
		pools:       make(map[string]*pool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send routes req by its endpoint (the first segment of the method). Only
// instances advertising the request's protocol version are considered.
func (c *Client) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	endpoint := req.Endpoint()

	instances, err := c.registry.Discover(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", endpoint, err)
	}
	instances = compatible(instances, req.Version)

	instance, err := c.balancer.Pick(endpoint, instances)
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", endpoint, err)
	}

	t, err := c.getTransport(ctx, instance.Addr)
	if err != nil {
		return nil, err
	}
	resp, err := t.Send(ctx, req)
	if err != nil && t.Err() != nil {
		c.logger.Debug("transport broken", zap.String("addr", instance.Addr), zap.Error(err))
	}
	return resp, err
}

func compatible(instances []registry.ServiceInstance, version string) []registry.ServiceInstance {
	out := instances[:0:0]
	for _, inst := range instances {
		if inst.Version == "" || inst.Version == version {
			out = append(out, inst)
		}
	}
	return out
}

// getTransport returns the next transport for addr, dialing it when the slot
// is empty or its connection is gone.
func (c *Client) getTransport(ctx context.Context, addr string) (*transport.ClientTransport, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	p, ok := c.pools[addr]
	if !ok {
		p = &pool{slots: make([]*transport.ClientTransport, c.poolSize)}
		c.pools[addr] = p
	}
	c.mu.Unlock()

	i := (p.next.Add(1) - 1) % uint64(len(p.slots))

	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.slots[i]; t != nil && t.Err() == nil {
		return t, nil
	}
	if old := p.slots[i]; old != nil {
		old.Close()
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	t, err := transport.Dial(dialCtx, addr, c.codecType,
		transport.WithLogger(c.logger), transport.WithHeartbeat(c.heartbeat))
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	p.slots[i] = t
	return t, nil
}

// Close closes every pooled transport. Later sends fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	pools := c.pools
	c.pools = make(map[string]*pool)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for _, p := range pools {
		p.mu.Lock()
		for i, t := range p.slots {
			if t != nil {
				errs = append(errs, t.Close())
				p.slots[i] = nil
			}
		}
		p.mu.Unlock()
	}
	return errors.Join(errs...)
}
