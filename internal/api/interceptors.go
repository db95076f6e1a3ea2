package api

import (
	"context"
	"fmt"
	"runtime/debug"

	"hotelbook/internal/apperr"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// ChainUnaryInterceptors runs interceptors in order, the first one outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		chained := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			current := interceptors[i]
			next := chained
			chained = func(currentCtx context.Context, currentReq any) (any, error) {
				return current(currentCtx, currentReq, info, next)
			}
		}
		return chained(ctx, req)
	}
}

// RecoveryUnaryInterceptor turns a panicking handler into an Internal status.
func RecoveryUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error().
						Str("method", info.FullMethod).
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Msg("grpc handler panicked")
				}
				resp, err = nil, grpcError(apperr.Internal("handler panicked", fmt.Errorf("%v", r)))
			}
		}()
		return handler(ctx, req)
	}
}
