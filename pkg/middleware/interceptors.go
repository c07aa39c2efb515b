package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RequestIDHeader is the metadata key carrying the caller's request id.
const RequestIDHeader = "x-request-id"

type requestIDKey struct{}

// RequestID returns the id assigned to the current call, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDInterceptor stores the caller's x-request-id in the context,
// generating one when absent, and echoes it in the response header.
func RequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDHeader); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
		return handler(context.WithValue(ctx, requestIDKey{}, id), req)
	}
}

// LoggingInterceptor logs every call with its method, peer, duration and
// status code. Failed calls log at Warn, internal errors at Error.
func LoggingInterceptor(logger logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := logrus.Fields{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if id := RequestID(ctx); id != "" {
			fields["request_id"] = id
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			fields["peer_addr"] = p.Addr.String()
		}
		log := logger.WithFields(fields)

		switch code {
		case codes.OK:
			log.Debug("rpc completed")
		case codes.Internal, codes.Unknown, codes.DataLoss:
			log.WithError(err).Error("rpc failed")
		default:
			log.WithError(err).Warn("rpc failed")
		}
		return resp, err
	}
}

// RecoveryInterceptor turns a handler panic into codes.Internal and logs
// the stack.
func RecoveryInterceptor(logger logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"method": info.FullMethod,
					"panic":  fmt.Sprint(r),
					"stack":  string(debug.Stack()),
				}).Error("recovered from handler panic")
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// ServerOptions returns the interceptor chain used by the dispatch server:
// request ids outermost, then logging, then panic recovery.
func ServerOptions(logger logrus.FieldLogger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RequestIDInterceptor(),
			LoggingInterceptor(logger),
			RecoveryInterceptor(logger),
		),
	}
}
