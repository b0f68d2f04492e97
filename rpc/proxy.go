package rpc

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"tiny-rpc/message"
)

// Proxy stands in for a remote member. It holds the dotted path accumulated so
// far and the Manager that will send its calls.
//
// Proxies are immutable: Attr returns a new Proxy and never touches the network.
type Proxy struct {
	manager *Manager
	path    []string
}

// Attr returns a proxy for the member name of p.
func (p *Proxy) Attr(name string) *Proxy {
	path := slices.Clip(p.path)
	return &Proxy{manager: p.manager, path: append(path, name)}
}

// Path returns the dotted path the proxy addresses, e.g. "bar.Foo.Hello".
func (p *Proxy) Path() string {
	return strings.Join(p.path, ".")
}

// Call invokes the remote member with positional arguments.
func (p *Proxy) Call(ctx context.Context, args ...any) (any, error) {
	return p.CallKw(ctx, args, nil)
}

// CallKw invokes the remote member with positional and keyword arguments.
//
// A failure reported by the peer is returned as *RemoteError. Envelope problems
// (version or id mismatch, no result) wrap ErrProtocol. Sender errors are
// returned unchanged.
func (p *Proxy) CallKw(ctx context.Context, args []any, kw map[string]any) (any, error) {
	req, err := message.NewRequest(p.manager.NextID(), p.Path(), args, kw)
	if err != nil {
		return nil, err
	}
	req.Version = p.manager.Version()

	resp, err := p.manager.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: invalid response: nil", ErrProtocol)
	}
	if resp.Version != req.Version {
		return nil, fmt.Errorf("%w: response version %q does not match %q", ErrProtocol, resp.Version, req.Version)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%w: response id %d does not match %d", ErrProtocol, resp.ID, req.ID)
	}
	if resp.HasError() {
		return nil, &RemoteError{Method: req.Method, Message: resp.Error}
	}
	if !resp.HasResult() {
		return nil, fmt.Errorf("%w: invalid response: no result", ErrProtocol)
	}
	return resp.Result, nil
}

// CallInto invokes the remote member and decodes the result into out, which
// must be a non-nil pointer.
func (p *Proxy) CallInto(ctx context.Context, out any, args ...any) error {
	result, err := p.Call(ctx, args...)
	if err != nil {
		return err
	}
	if err := decode(result, out); err != nil {
		return fmt.Errorf("rpc: decode result of %s: %w", p.Path(), err)
	}
	return nil
}
