// Package middleware wraps the server-side dispatch of a Manager.
//
// A HandlerFunc is Manager.Handle's signature. Middlewares compose in onion
// order: Chain(A, B, C)(h) runs A → B → C → h → C → B → A.
//
// Responses produced by a middleware itself (timeouts, rate limiting) carry the
// request's id and protocol version so the calling proxy accepts them. Only a
// refusal, an answer given before next was ever called, is safe to retry.
package middleware

import (
	"context"
	"sync/atomic"

	"tiny-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// reject builds an error response for req that was not passed on.
func reject(req *message.Request, msg string) *message.Response {
	resp := message.NewError(req.ID, msg)
	if req.Version != "" {
		resp.Version = req.Version
	}
	return resp
}

type refusalKey struct{}

// refuse is reject for a request that never reached next. It marks the
// attempt in ctx so an outer RetryMiddleware may run it again.
func refuse(ctx context.Context, req *message.Request, msg string) *message.Response {
	if flag, ok := ctx.Value(refusalKey{}).(*atomic.Bool); ok {
		flag.Store(true)
	}
	return reject(req, msg)
}
