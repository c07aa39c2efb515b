package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ag-ui/go-dispatch/internal/testutil"
	"github.com/ag-ui/go-dispatch/pkg/composition"
	"github.com/ag-ui/go-dispatch/pkg/routing"
	"github.com/ag-ui/go-dispatch/pkg/tools"
	"github.com/ag-ui/go-dispatch/pkg/transport"
)

type fixture struct {
	client *transport.DispatchClient
	router *routing.Router
	engine *composition.Engine
}

func newFixture(t *testing.T, configure func(*routing.Config), list ...*tools.Tool) *fixture {
	t.Helper()
	reg := testutil.Registry(t, list...)
	cfg := routing.DefaultConfig()
	if configure != nil {
		configure(&cfg)
	}
	router, err := routing.NewRouter(reg, tools.NewExecutor(reg), routing.WithConfig(cfg))
	require.NoError(t, err)
	engine, err := composition.NewEngine(router, reg)
	require.NoError(t, err)
	svc, err := transport.NewService(router, engine, nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	transport.RegisterDispatchServer(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{client: transport.NewDispatchClient(conn), router: router, engine: engine}
}

func TestRoute_SendEmail(t *testing.T) {
	exec := testutil.NewCountingExecutor(map[string]interface{}{"messageId": "m-1"})
	f := newFixture(t, nil, testutil.NewEmailTool("gmail.send", exec))

	resp, err := f.client.Route(context.Background(), &transport.RouteRequest{
		Intent: "send email to a@b.com",
		Params: map[string]interface{}{"to": "a@b.com", "subject": "Hi", "body": "hello"},
		Context: transport.CallContext{
			Initiator:   tools.InitiatorAgent,
			InitiatorID: "agent-1",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Success)
	assert.Equal(t, "gmail.send", resp.Result.ToolID())
	assert.Equal(t, map[string]interface{}{"messageId": "m-1"}, resp.Result.Data)
	assert.Equal(t, "a@b.com", exec.Params(0)["to"])
}

func TestRoute_DirectTool(t *testing.T) {
	exec := testutil.NewCountingExecutor("ok")
	f := newFixture(t, nil, testutil.NewTool("search.v1", "web_search", exec, tools.CapabilityWebSearch))

	resp, err := f.client.Route(context.Background(), &transport.RouteRequest{
		ToolID:  "search.v1",
		Options: transport.RouteOptions{SkipCache: true, Optimization: routing.OptimizeSpeed},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Result.Data)
	assert.Equal(t, 1, exec.Calls())
}

func TestRoute_Errors(t *testing.T) {
	f := newFixture(t, func(c *routing.Config) {
		c.Breaker.FailureThreshold = 1
		c.Breaker.RecoveryTime = time.Minute
		c.Cache.Enabled = false
	}, testutil.NewEmailTool("gmail.send", testutil.NewFailingExecutor(nil)))
	ctx := context.Background()

	_, err := f.client.Route(ctx, &transport.RouteRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.Route(ctx, &transport.RouteRequest{ToolID: "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, tools.ErrToolNotFound)
	var toolErr *tools.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "missing", toolErr.ToolID)
	assert.Equal(t, codes.NotFound, status.Code(toolErr.Cause))

	params := map[string]interface{}{"to": "a@b.com"}
	_, err = f.client.Route(ctx, &transport.RouteRequest{Intent: "send email", Params: params})
	assert.ErrorIs(t, err, tools.ErrToolExecution)

	_, err = f.client.Route(ctx, &transport.RouteRequest{Intent: "send email", Params: params})
	require.ErrorAs(t, err, &toolErr)
	assert.ErrorIs(t, err, tools.ErrCircuitOpen)
	assert.True(t, toolErr.Retryable)
	assert.Equal(t, codes.Unavailable, status.Code(toolErr.Cause))
}

func TestCompose_ResearchThenPost(t *testing.T) {
	search := testutil.NewCountingExecutor(map[string]interface{}{"summary": "Go 1.24 released"})
	post := testutil.NewCountingExecutor("posted")
	f := newFixture(t, nil,
		testutil.NewTool("search.v1", "web_search", search, tools.CapabilityWebSearch),
		testutil.NewTool("post.v1", "create_text_post", post, tools.CapabilityTextPost),
	)
	ctx := context.Background()

	planned, err := f.client.Compose(ctx, &transport.ComposeRequest{
		Intent: "research topic then post summary",
		Params: map[string]interface{}{"topic": "golang"},
	})
	require.NoError(t, err)
	require.NotNil(t, planned.Plan)
	assert.Nil(t, planned.Result)
	assert.Equal(t, "research_and_post", planned.Plan.Template)
	require.Len(t, planned.Plan.Steps, 2)
	assert.Equal(t, 0, search.Calls(), "planning alone executes nothing")

	executed, err := f.client.Execute(ctx, &transport.ExecuteRequest{Plan: planned.Plan})
	require.NoError(t, err)
	assert.True(t, executed.Result.Success)
	assert.Equal(t, 2, executed.Result.CompletedSteps)
	assert.Equal(t, planned.Plan.CompositionID, executed.Result.CompositionID)
	assert.Equal(t, map[string]interface{}{"summary": "Go 1.24 released"}, post.Params(0)["content"])

	both, err := f.client.Compose(ctx, &transport.ComposeRequest{
		Intent:  "research topic then post summary",
		Params:  map[string]interface{}{"topic": "rust"},
		Execute: true,
	})
	require.NoError(t, err)
	require.NotNil(t, both.Result)
	assert.True(t, both.Result.Success)
}

func TestCompose_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.client.Compose(ctx, &transport.ComposeRequest{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(errorCause(t, err)))
	assert.ErrorIs(t, err, tools.ErrComposition)

	_, err = f.client.Execute(ctx, &transport.ExecuteRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestStats(t *testing.T) {
	exec := testutil.NewCountingExecutor("sent")
	f := newFixture(t, nil, testutil.NewEmailTool("gmail.send", exec))
	ctx := context.Background()

	_, err := f.client.Route(ctx, &transport.RouteRequest{
		Intent: "send email",
		Params: map[string]interface{}{"to": "a@b.com"},
	})
	require.NoError(t, err)

	stats, err := f.client.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Routing.TotalRequests)
	assert.EqualValues(t, 1, stats.Routing.SuccessfulRequests)
	require.Contains(t, stats.Breakers, "gmail.send")
	assert.Equal(t, routing.StateClosed, stats.Breakers["gmail.send"].State)
	require.Contains(t, stats.Performance, "gmail.send")
	assert.EqualValues(t, 1, stats.Performance["gmail.send"].TotalExecutions)
	assert.Empty(t, stats.Active)
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{name: "nil", err: nil, code: codes.OK},
		{name: "validation", err: tools.NewToolError(tools.ErrorTypeValidation, "VALIDATION_FAILED", "bad"), code: codes.InvalidArgument},
		{name: "timeout", err: tools.NewToolTimeoutError("t", time.Second), code: codes.DeadlineExceeded},
		{name: "duplicate", err: tools.NewDuplicateToolError("t", "id", "t"), code: codes.AlreadyExists},
		{name: "concurrency", err: tools.NewConcurrencyLimitError("t", 1), code: codes.ResourceExhausted},
		{name: "cancelled", err: tools.NewCancelledError("t", context.Canceled), code: codes.Canceled},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
		{name: "plain", err: assert.AnError, code: codes.Internal},
		{name: "already a status", err: status.Error(codes.PermissionDenied, "no"), code: codes.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(transport.StatusError(tt.err)))
		})
	}
}

func errorCause(t *testing.T, err error) error {
	t.Helper()
	var toolErr *tools.ToolError
	require.ErrorAs(t, err, &toolErr)
	return toolErr.Cause
}

func TestLocalConn(t *testing.T) {
	exec := testutil.NewCountingExecutor("sent")
	reg := testutil.Registry(t, testutil.NewEmailTool("gmail.send", exec))
	router, err := routing.NewRouter(reg, tools.NewExecutor(reg))
	require.NoError(t, err)
	engine, err := composition.NewEngine(router, reg)
	require.NoError(t, err)
	svc, err := transport.NewService(router, engine, nil)
	require.NoError(t, err)

	client := transport.NewDispatchClient(transport.NewLocalConn(svc))
	resp, err := client.Route(context.Background(), &transport.RouteRequest{
		Intent: "send email",
		Params: map[string]interface{}{"to": "a@b.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sent", resp.Result.Data)

	_, err = client.Route(context.Background(), &transport.RouteRequest{ToolID: "missing"})
	assert.ErrorIs(t, err, tools.ErrToolNotFound)

	err = transport.NewLocalConn(svc).Invoke(context.Background(), "/dispatch.v1.Dispatch/Nope",
		&structpb.Struct{}, &structpb.Struct{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
