package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ag-ui/go-dispatch/pkg/composition"
	"github.com/ag-ui/go-dispatch/pkg/routing"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// CallContext is the wire form of a tools.ExecutionContext.
type CallContext struct {
	Initiator    tools.InitiatorKind `json:"initiator,omitempty"`
	InitiatorID  string              `json:"initiatorId,omitempty"`
	UserID       string              `json:"userId,omitempty"`
	AgentID      string              `json:"agentId,omitempty"`
	SessionID    string              `json:"sessionId,omitempty"`
	Permissions  []string            `json:"permissions,omitempty"`
	Capabilities []tools.Capability  `json:"capabilities,omitempty"`
}

// ExecutionContext builds a fresh execution context. Calls without an
// initiator are attributed to the system.
func (c CallContext) ExecutionContext() *tools.ExecutionContext {
	kind := c.Initiator
	if kind == "" {
		kind = tools.InitiatorSystem
	}
	return tools.NewExecutionContext(
		tools.Initiator{Kind: kind, ID: c.InitiatorID},
		tools.WithUser(c.UserID),
		tools.WithAgent(c.AgentID),
		tools.WithSession(c.SessionID),
		tools.WithPermissions(c.Permissions...),
		tools.WithCapabilities(c.Capabilities...),
	)
}

// RouteOptions carries per-call router options.
type RouteOptions struct {
	Optimization        routing.Optimization `json:"optimization,omitempty"`
	FallbackChainLength int                  `json:"fallbackChainLength,omitempty"`
	MaxCandidates       int                  `json:"maxCandidates,omitempty"`
	Strategy            routing.Strategy     `json:"strategy,omitempty"`
	Category            tools.Category       `json:"category,omitempty"`
	SkipCache           bool                 `json:"skipCache,omitempty"`
}

func (o RouteOptions) options() []routing.RouteOption {
	var opts []routing.RouteOption
	if o.Optimization != "" {
		opts = append(opts, routing.WithOptimization(o.Optimization))
	}
	if o.FallbackChainLength > 0 {
		opts = append(opts, routing.WithFallbackChainLength(o.FallbackChainLength))
	}
	if o.MaxCandidates > 0 {
		opts = append(opts, routing.WithMaxCandidates(o.MaxCandidates))
	}
	if o.Strategy != "" {
		opts = append(opts, routing.WithStrategy(o.Strategy))
	}
	if o.Category != "" {
		opts = append(opts, routing.WithCategory(o.Category))
	}
	if o.SkipCache {
		opts = append(opts, routing.SkipCache())
	}
	return opts
}

// RouteRequest routes an intent, or executes ToolID directly when set.
type RouteRequest struct {
	Intent  string                 `json:"intent,omitempty"`
	ToolID  string                 `json:"toolId,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Context CallContext            `json:"context"`
	Options RouteOptions           `json:"options"`
}

// RouteResponse carries the result of the winning tool.
type RouteResponse struct {
	Result *tools.ToolResult `json:"result"`
}

// ComposeRequest plans a workflow and optionally runs it.
type ComposeRequest struct {
	Intent        string                 `json:"intent"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Context       CallContext            `json:"context"`
	Template      string                 `json:"template,omitempty"`
	NoTemplates   bool                   `json:"noTemplates,omitempty"`
	OptionalSteps []string               `json:"optionalSteps,omitempty"`
	TimeoutMs     int64                  `json:"timeoutMs,omitempty"`
	Execute       bool                   `json:"execute,omitempty"`
}

func (r ComposeRequest) options() []composition.ComposeOption {
	var opts []composition.ComposeOption
	if r.Template != "" {
		opts = append(opts, composition.WithTemplate(r.Template))
	}
	if r.NoTemplates {
		opts = append(opts, composition.WithoutTemplates())
	}
	if len(r.OptionalSteps) > 0 {
		opts = append(opts, composition.WithOptionalSteps(r.OptionalSteps...))
	}
	if r.TimeoutMs > 0 {
		opts = append(opts, composition.WithPlanTimeout(time.Duration(r.TimeoutMs)*time.Millisecond))
	}
	return opts
}

// ComposeResponse holds the plan and, when requested, its execution.
type ComposeResponse struct {
	Plan   *composition.Plan   `json:"plan"`
	Result *composition.Result `json:"result,omitempty"`
}

// ExecuteRequest runs a previously composed plan.
type ExecuteRequest struct {
	Plan    *composition.Plan `json:"plan"`
	Context CallContext       `json:"context"`
}

// ExecuteResponse carries a plan's execution outcome.
type ExecuteResponse struct {
	Result *composition.Result `json:"result"`
}

// StatsResponse is the monitoring snapshot served by Stats.
type StatsResponse struct {
	Routing      routing.RoutingStats                   `json:"routing"`
	Breakers     map[string]routing.CircuitBreakerState `json:"breakers"`
	Performance  map[string]tools.PerformanceMetric     `json:"performance"`
	Composition  composition.CompositionMetrics         `json:"composition"`
	Active       []composition.ActiveComposition        `json:"active"`
	ToolPatterns []composition.ToolPattern              `json:"toolPatterns"`
}

// encode converts a JSON-serializable value into a Struct message.
// Numbers travel as doubles, so integers above 2^53 lose precision.
func encode(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// decode fills v from a Struct message. It goes through encoding/json
// rather than protojson so whole doubles decode into integer fields.
func decode(s *structpb.Struct, v interface{}) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
