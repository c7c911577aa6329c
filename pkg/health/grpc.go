package health

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/grpc/health/grpc_health_v1"

	"ErrandDispatchPlatform/pkg/errors"
)

// GRPCServer отвечает на grpc.health.v1 по результатам того же Checker,
// что и HTTP /health. Пустое имя сервиса означает весь процесс.
type GRPCServer struct {
	grpc_health_v1.UnimplementedHealthServer

	service  string
	checker  HealthChecker
	draining atomic.Bool
}

var _ grpc_health_v1.HealthServer = (*GRPCServer)(nil)

// NewGRPCServer создает gRPC health сервер для сервиса service
func NewGRPCServer(service string, checker HealthChecker) *GRPCServer {
	return &GRPCServer{service: service, checker: checker}
}

// Check возвращает SERVING, пока все зависимости здоровы.
// Для незарегистрированного имени сервиса возвращает NOT_FOUND.
func (s *GRPCServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != s.service {
		return nil, errors.New(errors.ErrNotFound, "unknown service").
			WithDetails(fmt.Sprintf("service: %s", name))
	}

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if s.draining.Load() || s.checker.Check(ctx).Status != StatusHealthy {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: status}, nil
}

// Shutdown переводит сервер в NOT_SERVING перед остановкой
func (s *GRPCServer) Shutdown() {
	s.draining.Store(true)
}
