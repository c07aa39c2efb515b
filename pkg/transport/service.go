package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dispatch.v1.Dispatch"

const (
	Dispatch_Route_FullMethodName   = "/" + ServiceName + "/Route"
	Dispatch_Compose_FullMethodName = "/" + ServiceName + "/Compose"
	Dispatch_Execute_FullMethodName = "/" + ServiceName + "/Execute"
	Dispatch_Stats_FullMethodName   = "/" + ServiceName + "/Stats"
)

// DispatchServer is the server API for the dispatch service. Requests and
// responses are google.protobuf.Struct messages carrying the JSON form of
// the request types in this package.
type DispatchServer interface {
	Route(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Compose(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterDispatchServer registers srv on s.
func RegisterDispatchServer(s grpc.ServiceRegistrar, srv DispatchServer) {
	s.RegisterService(&Dispatch_ServiceDesc, srv)
}

type unaryMethod func(DispatchServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DispatchServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(DispatchServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, h)
	}
}

// Dispatch_ServiceDesc is the grpc.ServiceDesc for the dispatch service.
var Dispatch_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Route",
			Handler:    handler(Dispatch_Route_FullMethodName, DispatchServer.Route),
		},
		{
			MethodName: "Compose",
			Handler:    handler(Dispatch_Compose_FullMethodName, DispatchServer.Compose),
		},
		{
			MethodName: "Execute",
			Handler:    handler(Dispatch_Execute_FullMethodName, DispatchServer.Execute),
		},
		{
			MethodName: "Stats",
			Handler:    handler(Dispatch_Stats_FullMethodName, DispatchServer.Stats),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dispatch/v1/dispatch.proto",
}

// DispatchClient is the client API for the dispatch service.
type DispatchClient struct {
	cc grpc.ClientConnInterface
}

// NewDispatchClient wraps a client connection.
func NewDispatchClient(cc grpc.ClientConnInterface) *DispatchClient {
	return &DispatchClient{cc: cc}
}

func (c *DispatchClient) invoke(ctx context.Context, method string, req interface{}, resp interface{}, opts ...grpc.CallOption) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return FromStatus(err)
	}
	return decode(out, resp)
}

// Route routes an intent, or runs req.ToolID through the router.
func (c *DispatchClient) Route(ctx context.Context, req *RouteRequest, opts ...grpc.CallOption) (*RouteResponse, error) {
	resp := new(RouteResponse)
	if err := c.invoke(ctx, Dispatch_Route_FullMethodName, req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// Compose plans a workflow and optionally executes it.
func (c *DispatchClient) Compose(ctx context.Context, req *ComposeRequest, opts ...grpc.CallOption) (*ComposeResponse, error) {
	resp := new(ComposeResponse)
	if err := c.invoke(ctx, Dispatch_Compose_FullMethodName, req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// Execute runs a plan produced by Compose.
func (c *DispatchClient) Execute(ctx context.Context, req *ExecuteRequest, opts ...grpc.CallOption) (*ExecuteResponse, error) {
	resp := new(ExecuteResponse)
	if err := c.invoke(ctx, Dispatch_Execute_FullMethodName, req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stats returns the monitoring snapshot.
func (c *DispatchClient) Stats(ctx context.Context, opts ...grpc.CallOption) (*StatsResponse, error) {
	resp := new(StatsResponse)
	if err := c.invoke(ctx, Dispatch_Stats_FullMethodName, struct{}{}, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}
