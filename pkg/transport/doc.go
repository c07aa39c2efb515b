// Package transport exposes the router and composition engine as the
// dispatch.v1.Dispatch gRPC service.
//
// The service has four unary methods: Route, Compose, Execute and Stats.
// Requests and responses travel as google.protobuf.Struct messages holding
// the JSON form of the types in this package, so no generated stubs are
// needed on either side. Tool errors are mapped to gRPC status codes and
// carry an errdetails.ErrorInfo that DispatchClient turns back into a
// *tools.ToolError:
//
//	srv := grpc.NewServer()
//	svc, _ := transport.NewService(router, engine, logger)
//	transport.RegisterDispatchServer(srv, svc)
//
//	client := transport.NewDispatchClient(conn)
//	resp, err := client.Route(ctx, &transport.RouteRequest{Intent: "search the web"})
package transport
