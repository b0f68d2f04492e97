package middleware

import (
	"context"
	"time"

	"tiny-rpc/message"
)

const errTimedOut = "request timed out"

// TimeOutMiddleware answers with a timeout error when next does not return
// within timeout. next keeps running in the background with a cancelled context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return reject(req, errTimedOut)
			}
		}
	}
}
