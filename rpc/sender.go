package rpc

import (
	"context"

	"tiny-rpc/message"
)

// Sender delivers a request to the peer and returns its response.
// The response must carry the request's id. Blocking, retries and timeouts are
// the sender's business.
type Sender interface {
	Send(ctx context.Context, req *message.Request) (*message.Response, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

func (f SenderFunc) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	return f(ctx, req)
}

// Loopback returns a Sender that hands requests straight to peer.Handle.
// Useful for tests and for wiring two managers inside one process.
func Loopback(peer *Manager) Sender {
	return SenderFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return peer.Handle(ctx, req), nil
	})
}
