package middleware

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/hydrolink/internal/metrics"
)

func NewMetricsInterceptor(collector *metrics.Collector) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		if collector != nil {
			method := path.Base(info.FullMethod)
			collector.GRPCRequests.WithLabelValues(method).Inc()
			collector.GRPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}
