package replication

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type reqID int32

func (c *reqID) next() string {
	next := atomic.AddInt32((*int32)(c), 1)
	return "r" + strconv.Itoa(int(next))
}

// LoggingInterceptor logs every unary call with its request id, duration and status code.
type LoggingInterceptor struct {
	logger *zap.Logger
	reqID  reqID
}

func NewLoggingInterceptor(logger *zap.Logger) *LoggingInterceptor {
	return &LoggingInterceptor{logger: logger}
}

func (i *LoggingInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		id := i.reqID.next()
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("req_id", id),
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("code", status.Code(err).String()),
		}
		if err != nil {
			i.logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
		} else {
			i.logger.Debug("gRPC call", fields...)
		}
		return resp, err
	}
}

// ServerOptions returns the interceptor chain shared by every seriesdb gRPC server.
func ServerOptions(logger *zap.Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(grpcmiddleware.ChainUnaryServer(
			NewLoggingInterceptor(logger).Unary(),
			grpcprometheus.UnaryServerInterceptor,
		)),
		grpc.StreamInterceptor(grpcmiddleware.ChainStreamServer(
			grpcprometheus.StreamServerInterceptor,
		)),
	}
}
