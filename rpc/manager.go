// Package rpc implements the dispatch core: a Manager that owns a registry of
// exposed objects and resolves incoming requests against it, and a Proxy that
// turns calls on a remote path into requests.
//
// Call flow:
//
//	Proxy.Call → Manager.Send → Sender (transport) → peer Manager.Handle
//	  → registry lookup → visibility check per segment → invoke → Response
//	  → back through the Sender → Proxy validates and unwraps
//
// The byte transport and the serialization format are not part of this package;
// integrators provide a Sender.
package rpc

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"go.uber.org/zap"

	"tiny-rpc/message"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Manager is the central object on both ends of a connection. On the calling
// side it builds proxies and forwards their requests to its Sender; on the
// receiving side it resolves requests against its registry.
//
// A Manager is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	objects map[string]any // endpoint name → exposed root object

	ids     IDGenerator
	sender  Sender
	logger  *zap.Logger
	version string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSender sets the transport hook used by Send.
func WithSender(s Sender) Option {
	return func(m *Manager) { m.sender = s }
}

// WithIDGenerator replaces the default randomly seeded id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithVersion overrides the protocol version the Manager speaks.
func WithVersion(v string) Option {
	return func(m *Manager) { m.version = v }
}

// NewManager creates a Manager with an empty registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		objects: make(map[string]any),
		ids:     NewRandomIDs(),
		logger:  zap.NewNop(),
		version: message.Version,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSender replaces the transport hook. Used when the sender can only be built
// after the Manager, e.g. when two managers send to each other.
func (m *Manager) SetSender(s Sender) {
	m.mu.Lock()
	m.sender = s
	m.mu.Unlock()
}

// Register makes obj reachable under name. obj must be Exposed, either by
// implementing the interface itself or by being tagged with Public.
func (m *Manager) Register(name string, obj any) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := obj.(Exposed); !ok {
		return fmt.Errorf("%w: %T", ErrNotPublic, obj)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	m.objects[name] = obj
	m.logger.Debug("rpc endpoint registered", zap.String("name", name), zap.String("type", fmt.Sprintf("%T", obj)))
	return nil
}

// Unregister removes name from the registry. Unknown names are ignored.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	delete(m.objects, name)
	m.mu.Unlock()
}

// Names returns the registered endpoint names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	m.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Registered reports whether name is currently registered.
func (m *Manager) Registered(name string) bool {
	m.mu.RLock()
	_, ok := m.objects[name]
	m.mu.RUnlock()
	return ok
}

// Proxy returns a proxy rooted at the remote endpoint name. The endpoint is not
// checked until the first call.
func (m *Manager) Proxy(name string) *Proxy {
	return &Proxy{manager: m, path: []string{name}}
}

// NextID returns a fresh correlation id.
func (m *Manager) NextID() uint64 {
	return m.ids.Next()
}

// Version returns the protocol version the Manager speaks.
func (m *Manager) Version() string {
	return m.version
}

// Send forwards req to the peer through the configured Sender.
func (m *Manager) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	m.mu.RLock()
	s := m.sender
	m.mu.RUnlock()
	if s == nil {
		return nil, ErrUnimplemented
	}
	return s.Send(ctx, req)
}

// Handle resolves and invokes req against the registry and returns the
// response to send back. It never panics: every failure, including a failure
// inside the invoked method, is reported in the response's Error field.
func (m *Manager) Handle(ctx context.Context, req *message.Request) *message.Response {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.Validate(); err != nil {
		var id uint64
		if req != nil {
			id = req.ID
		}
		m.logger.Debug("rpc request rejected", zap.Uint64("id", id), zap.Error(err))
		return m.errorResponse(id, err.Error())
	}
	if req.Version != m.version {
		return m.errorResponse(req.ID, fmt.Sprintf("protocol version mismatch: got %s, want %s", req.Version, m.version))
	}

	segs := req.Segments()
	m.mu.RLock()
	root, ok := m.objects[segs[0]]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug("rpc endpoint not found", zap.String("method", req.Method))
		return m.errorResponse(req.ID, fmt.Sprintf("%s: %s", errEndpointNotFound, segs[0]))
	}

	res := resolve(root, segs)
	if res.failure != "" {
		m.logger.Debug("rpc resolution failed", zap.String("method", req.Method), zap.String("error", res.failure))
		return m.errorResponse(req.ID, res.failure)
	}

	result, err := invoke(ctx, res.fn, req.Params, req.ParamsKw)
	if err != nil {
		m.logger.Debug("rpc call failed", zap.String("method", req.Method), zap.Error(err))
		return m.errorResponse(req.ID, err.Error())
	}
	resp := message.NewResult(req.ID, result)
	resp.Version = m.version
	return resp
}

func (m *Manager) errorResponse(id uint64, msg string) *message.Response {
	resp := message.NewError(id, msg)
	resp.Version = m.version
	return resp
}
