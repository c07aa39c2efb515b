package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// LocalConn is a grpc.ClientConnInterface that calls a DispatchServer in
// the same process through the service descriptor, without a network
// round trip. Errors still pass through StatusError.
type LocalConn struct {
	srv      DispatchServer
	handlers map[string]grpc.MethodHandler
}

var _ grpc.ClientConnInterface = (*LocalConn)(nil)

// NewLocalConn creates a connection bound to srv.
func NewLocalConn(srv DispatchServer) *LocalConn {
	handlers := make(map[string]grpc.MethodHandler, len(Dispatch_ServiceDesc.Methods))
	for _, m := range Dispatch_ServiceDesc.Methods {
		handlers["/"+ServiceName+"/"+m.MethodName] = m.Handler
	}
	return &LocalConn{srv: srv, handlers: handlers}
}

// Invoke implements grpc.ClientConnInterface.
func (c *LocalConn) Invoke(ctx context.Context, method string, args, reply interface{}, _ ...grpc.CallOption) error {
	h, ok := c.handlers[method]
	if !ok {
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	in, ok := args.(*structpb.Struct)
	if !ok {
		return status.Errorf(codes.Internal, "unexpected request type %T", args)
	}
	dec := func(v interface{}) error {
		proto.Merge(v.(proto.Message), in)
		return nil
	}
	out, err := h(c.srv, ctx, dec, nil)
	if err != nil {
		return StatusError(err)
	}
	proto.Merge(reply.(proto.Message), out.(*structpb.Struct))
	return nil
}

// NewStream implements grpc.ClientConnInterface. The service has no
// streaming methods.
func (c *LocalConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, status.Error(codes.Unimplemented, "streaming is not supported")
}
