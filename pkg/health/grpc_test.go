package health

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"ErrandDispatchPlatform/pkg/errors"
	pkggrpc "ErrandDispatchPlatform/pkg/grpc"
	"ErrandDispatchPlatform/pkg/logger"
)

func TestGRPCServer_Check(t *testing.T) {
	healthy := NewChecker("1.0.0", time.Second).
		Register("postgres", func(context.Context) error { return nil })
	broken := NewChecker("1.0.0", time.Second).
		Register("redis", func(context.Context) error { return stderrors.New("dial tcp: refused") })

	tests := []struct {
		name    string
		checker HealthChecker
		service string
		want    grpc_health_v1.HealthCheckResponse_ServingStatus
	}{
		{"whole process", healthy, "", grpc_health_v1.HealthCheckResponse_SERVING},
		{"named service", healthy, "dispatch-service", grpc_health_v1.HealthCheckResponse_SERVING},
		{"dependency down", broken, "dispatch-service", grpc_health_v1.HealthCheckResponse_NOT_SERVING},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewGRPCServer("dispatch-service", tt.checker)
			resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: tt.service})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.GetStatus())
		})
	}
}

func TestGRPCServer_ShutdownStopsServing(t *testing.T) {
	srv := NewGRPCServer("dispatch-service", NewChecker("1.0.0", time.Second))
	srv.Shutdown()

	resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

// TestGRPCServer_UnknownServiceThroughInterceptor проверяет, что ошибка
// платформы доходит до клиента как codes.NotFound
func TestGRPCServer_UnknownServiceThroughInterceptor(t *testing.T) {
	srv := NewGRPCServer("dispatch-service", NewChecker("1.0.0", time.Second))
	interceptor := pkggrpc.UnaryServerInterceptor(logger.NewNop())
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	req := &grpc_health_v1.HealthCheckRequest{Service: "billing"}
	direct, err := srv.Check(context.Background(), req)
	assert.Nil(t, direct)
	assert.Equal(t, errors.ErrNotFound, errors.CodeOf(err))

	_, err = interceptor(context.Background(), req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.Check(ctx, req.(*grpc_health_v1.HealthCheckRequest))
	})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
