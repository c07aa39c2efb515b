// Package routing implements intent-driven tool routing on top of the
// tools package.
//
// A Router turns a natural-language intent into a ranked list of candidate
// tools, executes the best one through a tools.Executor and falls back to
// the next candidate when an attempt fails. Around that loop it keeps:
//
//   - a circuit breaker per tool (CLOSED, OPEN, HALF_OPEN) that removes
//     failing tools from scoring until their recovery window passes
//   - a TTL + LRU result cache with single-flight computation per key
//   - a load balancer that picks among interchangeable instances of a
//     logical tool and bounds concurrent executions per tool
//   - routing statistics and optional Prometheus collectors
//
// Basic usage:
//
//	registry := tools.NewRegistry()
//	// register tools...
//	executor := tools.NewExecutor(registry)
//	router, err := routing.NewRouter(registry, executor)
//	if err != nil {
//		return err
//	}
//	result, err := router.RouteIntelligently(ctx, "send email to a@b.com",
//		map[string]interface{}{"to": "a@b.com"}, execCtx,
//		routing.WithOptimization(routing.OptimizeReliability))
//
// Breaker state hooks run while the breaker's lock is held and must not
// call back into the router.
package routing
