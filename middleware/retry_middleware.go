package middleware

import (
	"context"
	"sync/atomic"
	"time"

	"tiny-rpc/message"
)

// RetryMiddleware re-runs next when an inner middleware refused the request
// before it reached the handler (see RateLimitMiddleware), backing off
// exponentially from baseDelay. Errors from the invoked method and timeouts
// are returned at once: the call may already have run, or still be running.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			resp, refused := attempt(ctx, next, req)
			for i := 0; i < maxRetries && refused; i++ {
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return resp
				}
				resp, refused = attempt(ctx, next, req)
			}
			return resp
		}
	}
}

func attempt(ctx context.Context, next HandlerFunc, req *message.Request) (*message.Response, bool) {
	var refused atomic.Bool
	resp := next(context.WithValue(ctx, refusalKey{}, &refused), req)
	return resp, resp.HasError() && refused.Load()
}
