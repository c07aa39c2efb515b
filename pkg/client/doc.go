// Package client provides a Go client for dispatch services.
//
// It wraps the dispatch.v1.Dispatch gRPC API with typed calls, default
// caller identity and per-call timeouts. Errors returned by the service
// are rebuilt as *tools.ToolError, so errors.Is works against the tools
// sentinels on the client side too.
//
// Example usage:
//
//	c, err := client.New(client.Config{
//		Address: "localhost:7070",
//		Timeout: 10 * time.Second,
//		Caller:  transport.CallContext{Initiator: tools.InitiatorAgent, InitiatorID: "planner"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	result, err := c.Route(ctx, "send email to a@b.com", map[string]interface{}{"to": "a@b.com"})
//	if errors.Is(err, tools.ErrCircuitOpen) {
//		// every candidate is cooling down
//	}
package client
