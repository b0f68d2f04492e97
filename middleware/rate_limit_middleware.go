package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"tiny-rpc/message"
)

const errRateLimited = "rate limit exceeded"

// RateLimitMiddleware rejects calls beyond a token bucket of r calls per second
// with the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return refuse(ctx, req, errRateLimited)
			}
			return next(ctx, req)
		}
	}
}
