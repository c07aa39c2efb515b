package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ag-ui/go-dispatch/pkg/composition"
	"github.com/ag-ui/go-dispatch/pkg/config"
	"github.com/ag-ui/go-dispatch/pkg/routing"
	"github.com/ag-ui/go-dispatch/pkg/tools"
	"github.com/ag-ui/go-dispatch/pkg/transport"
)

// Client is a connection to a dispatch service.
type Client struct {
	rpc     *transport.DispatchClient
	conn    *grpc.ClientConn
	timeout time.Duration
	caller  transport.CallContext
}

// Config contains configuration options for the client.
type Config struct {
	// Address is the gRPC target, e.g. "localhost:7070" or "dns:///dispatch:7070"
	Address string

	// Timeout bounds each call that has no earlier deadline; zero means none
	Timeout time.Duration

	// Caller identifies the client on every call unless overridden
	Caller transport.CallContext

	// DialOptions replace the default insecure transport credentials
	DialOptions []grpc.DialOption
}

// New dials cfg.Address. The connection is established lazily on the
// first call.
func New(cfg Config) (*Client, error) {
	if err := validateAddress(cfg.Address); err != nil {
		return nil, err
	}
	if cfg.Timeout < 0 {
		return nil, &config.ConfigError{
			Field: "Timeout",
			Value: cfg.Timeout,
			Err:   errors.New("timeout cannot be negative"),
		}
	}

	opts := cfg.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, &config.ConfigError{
			Field: "Address",
			Value: cfg.Address,
			Err:   fmt.Errorf("invalid target: %w", err),
		}
	}

	c := NewWithConn(conn, cfg)
	c.conn = conn
	return c, nil
}

// NewWithConn creates a client over an existing connection, such as a
// transport.LocalConn. Close does not close cc.
func NewWithConn(cc grpc.ClientConnInterface, cfg Config) *Client {
	return &Client{
		rpc:     transport.NewDispatchClient(cc),
		timeout: cfg.Timeout,
		caller:  cfg.Caller,
	}
}

func validateAddress(addr string) error {
	if addr == "" {
		return &config.ConfigError{
			Field: "Address",
			Value: addr,
			Err:   errors.New("address cannot be empty"),
		}
	}
	if strings.Contains(addr, "://") {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return &config.ConfigError{
			Field: "Address",
			Value: addr,
			Err:   fmt.Errorf("invalid address: %w", err),
		}
	}
	return nil
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	caller   *transport.CallContext
	route    transport.RouteOptions
	template string
	optional []string
	timeout  time.Duration
}

// WithCaller overrides the configured caller identity.
func WithCaller(cc transport.CallContext) CallOption {
	return func(o *callOptions) { o.caller = &cc }
}

// WithOptimization selects the router's scoring mode.
func WithOptimization(mode routing.Optimization) CallOption {
	return func(o *callOptions) { o.route.Optimization = mode }
}

// WithRouteOptions sets every router option at once.
func WithRouteOptions(ro transport.RouteOptions) CallOption {
	return func(o *callOptions) { o.route = ro }
}

// WithTemplate forces a named composition template.
func WithTemplate(name string) CallOption {
	return func(o *callOptions) { o.template = name }
}

// WithOptionalSteps marks plan steps that may fail without aborting.
func WithOptionalSteps(ids ...string) CallOption {
	return func(o *callOptions) { o.optional = append(o.optional, ids...) }
}

// WithPlanTimeout sets the overall deadline of a composed plan.
func WithPlanTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

func (c *Client) options(opts []CallOption) callOptions {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.caller == nil {
		caller := c.caller
		o.caller = &caller
	}
	return o
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Route routes intent to the best matching tool and returns its result.
func (c *Client) Route(ctx context.Context, intent string, params map[string]interface{}, opts ...CallOption) (*tools.ToolResult, error) {
	if intent == "" {
		return nil, &config.ConfigError{
			Field: "intent",
			Value: intent,
			Err:   errors.New("intent cannot be empty"),
		}
	}
	return c.route(ctx, &transport.RouteRequest{Intent: intent, Params: params}, opts)
}

// ExecuteTool runs a known tool through the router's breaker, balancer
// and fallback chain.
func (c *Client) ExecuteTool(ctx context.Context, toolID string, params map[string]interface{}, opts ...CallOption) (*tools.ToolResult, error) {
	if toolID == "" {
		return nil, &config.ConfigError{
			Field: "toolID",
			Value: toolID,
			Err:   errors.New("tool id cannot be empty"),
		}
	}
	return c.route(ctx, &transport.RouteRequest{ToolID: toolID, Params: params}, opts)
}

func (c *Client) route(ctx context.Context, req *transport.RouteRequest, opts []CallOption) (*tools.ToolResult, error) {
	o := c.options(opts)
	req.Context = *o.caller
	req.Options = o.route

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.rpc.Route(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) compose(ctx context.Context, intent string, params map[string]interface{}, execute bool, opts []CallOption) (*transport.ComposeResponse, error) {
	if intent == "" {
		return nil, &config.ConfigError{
			Field: "intent",
			Value: intent,
			Err:   errors.New("intent cannot be empty"),
		}
	}
	o := c.options(opts)
	req := &transport.ComposeRequest{
		Intent:        intent,
		Params:        params,
		Context:       *o.caller,
		Template:      o.template,
		OptionalSteps: o.optional,
		TimeoutMs:     o.timeout.Milliseconds(),
		Execute:       execute,
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.rpc.Compose(ctx, req)
}

// Compose plans a workflow for intent without running it.
func (c *Client) Compose(ctx context.Context, intent string, params map[string]interface{}, opts ...CallOption) (*composition.Plan, error) {
	resp, err := c.compose(ctx, intent, params, false, opts)
	if err != nil {
		return nil, err
	}
	return resp.Plan, nil
}

// Run plans a workflow for intent and executes it in one call.
func (c *Client) Run(ctx context.Context, intent string, params map[string]interface{}, opts ...CallOption) (*composition.Plan, *composition.Result, error) {
	resp, err := c.compose(ctx, intent, params, true, opts)
	if err != nil {
		return nil, nil, err
	}
	return resp.Plan, resp.Result, nil
}

// Execute runs a plan returned by Compose.
func (c *Client) Execute(ctx context.Context, plan *composition.Plan, opts ...CallOption) (*composition.Result, error) {
	if plan == nil {
		return nil, &config.ConfigError{
			Field: "plan",
			Value: plan,
			Err:   errors.New("plan cannot be nil"),
		}
	}
	o := c.options(opts)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.rpc.Execute(ctx, &transport.ExecuteRequest{Plan: plan, Context: *o.caller})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Stats returns the service's monitoring snapshot.
func (c *Client) Stats(ctx context.Context) (*transport.StatsResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.rpc.Stats(ctx)
}

// Close closes the connection dialed by New.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
