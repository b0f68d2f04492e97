package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tiny-rpc/message"
)

// LoggingMiddleware logs every call with its method, id and duration, and the
// error if the call failed.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Uint64("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.HasError() {
				logger.Warn("rpc call failed", append(fields, zap.String("error", resp.Error))...)
				return resp
			}
			logger.Info("rpc call", fields...)
			return resp
		}
	}
}
