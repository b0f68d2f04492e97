package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tiny-rpc/message"
)

// unknownEndpoint labels calls to names the server does not serve.
const unknownEndpoint = "unknown"

// MetricsMiddleware records per-endpoint call counts, failures and latency.
// The collectors are registered on reg; registering twice on the same
// registerer returns an error.
//
// Endpoint names come from the caller, so only those accepted by known keep
// their own label and the rest share "unknown". A nil known buckets every call.
func MetricsMiddleware(reg prometheus.Registerer, known func(endpoint string) bool) (Middleware, error) {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinyrpc",
		Name:      "calls_total",
		Help:      "RPC calls handled, by endpoint.",
	}, []string{"endpoint"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinyrpc",
		Name:      "call_errors_total",
		Help:      "RPC calls answered with an error, by endpoint.",
	}, []string{"endpoint"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tinyrpc",
		Name:      "call_duration_seconds",
		Help:      "Time spent handling RPC calls, by endpoint.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})
	for _, c := range []prometheus.Collector{calls, failures, latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			endpoint := req.Endpoint()
			if known == nil || !known(endpoint) {
				endpoint = unknownEndpoint
			}
			start := time.Now()
			resp := next(ctx, req)
			calls.WithLabelValues(endpoint).Inc()
			latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if resp.HasError() {
				failures.WithLabelValues(endpoint).Inc()
			}
			return resp
		}
	}, nil
}
