package server

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName names the meter service. Its health status reflects the
// meter refresh cycles.
const ServiceName = "hydrolink.Meters"

// HealthChecker implements the gRPC health checking protocol
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	mu     sync.RWMutex
	status map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewHealthChecker starts with the process serving and the meter service
// unknown until the first refresh cycle reports.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		status: map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{
			"":          grpc_health_v1.HealthCheckResponse_SERVING,
			ServiceName: grpc_health_v1.HealthCheckResponse_UNKNOWN,
		},
	}
}

func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if status, ok := h.status[req.Service]; ok {
		return &grpc_health_v1.HealthCheckResponse{
			Status: status,
		}, nil
	}

	return nil, status.Error(codes.NotFound, "unknown service")
}

func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watching is not supported")
}

// SetServingStatus sets the serving status of a service
func (h *HealthChecker) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[service] = status
}

// ObserveRefresh marks the meter service SERVING after a successful cycle
// and NOT_SERVING after a failed one.
func (h *HealthChecker) ObserveRefresh(err error) {
	if err != nil {
		h.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
}
