package server

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	middleware "github.com/tejusbharadwaj/hydrolink/internal/grpc/middlewares"
	"github.com/tejusbharadwaj/hydrolink/internal/metrics"
)

// ServerConfig holds configuration options for the gRPC server
type ServerConfig struct {
	RateLimit      float64 // Requests per second
	RateLimitBurst int     // Maximum burst size for rate limiting
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0,
		RateLimitBurst: 10,
	}
}

func (c ServerConfig) validate() error {
	if c.RateLimit <= 0 {
		return fmt.Errorf("invalid rate limit: %v", c.RateLimit)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("invalid rate limit burst: %d", c.RateLimitBurst)
	}
	return nil
}

// SetupServer builds the gRPC server with the health service and all middleware
func SetupServer(health *HealthChecker, config ServerConfig, collector *metrics.Collector, logger *logrus.Logger) (*grpc.Server, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	server := grpc.NewServer(
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				middleware.ContextMiddleware, // Add request ID first
				middleware.NewRateLimitingInterceptor(config.RateLimit, config.RateLimitBurst),
				middleware.NewLoggingInterceptor(logger),
				middleware.NewMetricsInterceptor(collector),
			),
		),
	)

	grpc_health_v1.RegisterHealthServer(server, health)
	return server, nil
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			chainedInterceptor := chain
			chain = func(currentCtx context.Context, currentReq interface{}) (interface{}, error) {
				return interceptor(currentCtx, currentReq, info, chainedInterceptor)
			}
		}
		return chain(ctx, req)
	}
}
