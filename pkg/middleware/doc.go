// Package middleware provides the gRPC unary interceptors installed on the
// dispatch server: request id propagation, structured call logging with
// logrus, and panic recovery.
//
//	srv := grpc.NewServer(middleware.ServerOptions(logger)...)
package middleware
