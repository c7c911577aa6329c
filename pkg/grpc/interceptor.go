package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"ErrandDispatchPlatform/pkg/errors"
	"ErrandDispatchPlatform/pkg/logger"
)

// UnaryServerInterceptor логирует вызовы и переводит *errors.Error в gRPC статус
func UnaryServerInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []logger.Field{
			logger.CtxField(ctx),
			logger.String("method", info.FullMethod),
			logger.Duration("duration", time.Since(start)),
		}
		if err == nil {
			log.Debug("grpc call completed", fields...)
			return resp, nil
		}

		if _, isStatus := status.FromError(err); isStatus {
			log.Warn("grpc call failed", append(fields, logger.Error(err))...)
			return resp, err
		}

		e, ok := errors.As(err)
		if !ok {
			e = errors.Wrap(err, errors.ErrInternal, "internal error")
		}
		log.Warn("grpc call failed",
			append(fields, logger.String("code", string(e.Code)), logger.Error(err))...)
		return resp, e.WithContext(ctx).ToGRPCErr()
	}
}
