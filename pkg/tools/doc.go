// Package tools provides the tool model and the leaf services of the
// dispatch layer.
//
// The tools package implements the pieces every higher layer builds on:
//
// - Tool definitions with a JSON Schema style parameter contract
// - A concurrency-safe Registry indexed by name, category and capability
// - A ValidationService for definitions and call-time parameters/contexts
// - A DiscoveryService for exact, filtered and free-text lookups
// - An Executor that invokes tools under a deadline and records samples
// - A typed error taxonomy shared by routing and composition
//
// # Tool Definition
//
// Tools declare capabilities, a parameter schema and an executor:
//
//	tool := &Tool{
//		ID:           "gmail.send_email",
//		Name:         "send_email",
//		Description:  "Send an email message",
//		Category:     CategoryCommunication,
//		Capabilities: []Capability{CapabilityEmailSend},
//		Schema: &ToolSchema{
//			Type: "object",
//			Properties: map[string]*Property{
//				"to": {Type: "string", Format: "email"},
//			},
//			Required: []string{"to"},
//		},
//		Executor: gmailSender,
//	}
//
// # Tool Registration
//
//	registry := NewRegistry()
//	err := registry.Register(tool)
//
// # Tool Execution
//
// The Executor is the only component that calls a ToolExecutor:
//
//	executor := NewExecutor(registry, WithDefaultTimeout(10*time.Second))
//	ctx := NewExecutionContext(Initiator{Kind: InitiatorAgent, ID: "planner"})
//	result, err := executor.Execute(context.Background(), "gmail.send_email",
//		map[string]interface{}{"to": "a@b.com"}, ctx)
//
// Failures are *ToolError values matching the Err* sentinels under
// errors.Is.
package tools
