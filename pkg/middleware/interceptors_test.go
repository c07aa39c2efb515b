package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ag-ui/go-dispatch/pkg/middleware"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/dispatch.v1.Dispatch/Route"}

func TestRequestIDInterceptor(t *testing.T) {
	interceptor := middleware.RequestIDInterceptor()

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen = middleware.RequestID(ctx)
		return "ok", nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "req-42"))
	_, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "req-42", seen)

	_, err = interceptor(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.Len(t, seen, 36, "a uuid is generated when the caller sends none")

	assert.Empty(t, middleware.RequestID(context.Background()))
}

func TestLoggingInterceptor(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	interceptor := middleware.LoggingInterceptor(logger)

	resp, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "/dispatch.v1.Dispatch/Route", entry.Data["method"])
	assert.Equal(t, "OK", entry.Data["code"])

	_, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "no tool")
	})
	require.Error(t, err)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "NotFound", hook.LastEntry().Data["code"])

	_, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, errors.New("plain error")
	})
	require.Error(t, err)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Len(t, hook.AllEntries(), 3)
}

func TestRecoveryInterceptor(t *testing.T) {
	logger, hook := test.NewNullLogger()
	interceptor := middleware.RecoveryInterceptor(logger)

	resp, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("kaboom")
	})
	assert.Nil(t, resp)
	assert.Equal(t, codes.Internal, status.Code(err))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "kaboom", hook.LastEntry().Data["panic"])
	assert.Contains(t, hook.LastEntry().Data["stack"], "goroutine")

	resp, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, resp)
}
