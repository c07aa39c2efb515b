// Package server hosts a dispatch process: the dispatch.v1.Dispatch gRPC
// service plus an HTTP monitor.
//
// Monitor routes:
//
//	GET  /metrics               Prometheus exposition
//	GET  /healthz               liveness
//	GET  /stats                 routing, breaker, performance and composition snapshot
//	GET  /tools?format=         enabled tools as native, openai or anthropic definitions
//	GET  /breakers              circuit breaker states
//	POST /breakers/{id}/reset   close one tool's breaker
//	POST /cache/clear           evict every cached routing result
//	GET  /compositions          active compositions, metrics and tool patterns
//	GET  /ws                    websocket stream of /stats every stream_interval
//
// Both listeners are capped at server.max_connections concurrent
// connections. Run blocks until its context is cancelled and then shuts
// down gracefully:
//
//	srv, err := server.New(cfg.Server, router, engine, server.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx)
package server
