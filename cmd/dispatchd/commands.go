package main

import (
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ag-ui/go-dispatch/pkg/client"
	"github.com/ag-ui/go-dispatch/pkg/routing"
	"github.com/ag-ui/go-dispatch/pkg/server"
	"github.com/ag-ui/go-dispatch/pkg/tools"
	"github.com/ag-ui/go-dispatch/pkg/transport"
)

// NewRootCommand creates the dispatchd command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "dispatchd",
		Short: "Capability-based tool routing and workflow composition",
		Long: `dispatchd routes natural-language intents to registered tools, composes
multi-step workflows and serves both over gRPC with an HTTP monitor.

Configuration is read from --config and DISPATCH_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newToolsCommand(a))
	root.AddCommand(newTemplatesCommand(a))
	root.AddCommand(newRouteCommand(a))
	root.AddCommand(newComposeCommand(a))
	return root
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC service and HTTP monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.build()
			if err != nil {
				return err
			}
			srv, err := server.New(a.cfg.Server, c.router, c.engine,
				server.WithLogger(a.logger),
				server.WithGatherer(c.metrics),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.WithField("tools", c.registry.Count()).Info("starting dispatchd")
			return srv.Run(ctx)
		},
	}
}

func newToolsCommand(a *app) *cobra.Command {
	var category, capability, format string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		Long: `List the registered tools as a table, or export them as function
definitions for a model provider with --format openai|anthropic|native.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var export tools.ProviderFormat
			if format != "table" {
				f, err := tools.ParseProviderFormat(format)
				if err != nil {
					return err
				}
				export = f
			}
			c, err := a.build()
			if err != nil {
				return err
			}
			filter := &tools.ToolFilter{Category: tools.Category(category)}
			if capability != "" {
				filter.Capabilities = []tools.Capability{tools.Capability(strings.ToUpper(capability))}
			}
			list := c.registry.List(filter)
			sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
			if export != "" {
				out, err := tools.ExportTools(list, export)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tCAPABILITIES\tVERSION")
			for _, t := range list {
				caps := make([]string, 0, len(t.Capabilities))
				for _, c := range t.Capabilities {
					caps = append(caps, string(c))
				}
				version := ""
				if t.Metadata != nil {
					version = t.Metadata.Version
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Category, strings.Join(caps, ","), version)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only tools in this category")
	cmd.Flags().StringVar(&capability, "capability", "", "only tools providing this capability")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, native, openai or anthropic")
	return cmd
}

func newTemplatesCommand(a *app) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List composition templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.build()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tSTEPS\tDESCRIPTION")
			for _, t := range c.engine.GetCompositionTemplates(tools.Category(category)) {
				steps := make([]string, 0, len(t.Steps))
				for _, s := range t.Steps {
					steps = append(steps, s.ID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Category, strings.Join(steps, "->"), t.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only templates in this category")
	return cmd
}

// callFlags are shared by the commands that can run in-process or
// against a remote dispatchd.
type callFlags struct {
	addr    string
	params  []string
	raw     string
	timeout time.Duration
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "dispatchd gRPC address; empty runs in-process")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&f.raw, "params", "", "parameters as a JSON object")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "overall call timeout")
}

// dial returns a client for f.addr, or a client over an in-process
// service when no address is given.
func (f *callFlags) dial(a *app) (*client.Client, error) {
	cfg := client.Config{
		Address: f.addr,
		Timeout: f.timeout,
		Caller:  transport.CallContext{Initiator: tools.InitiatorUser, InitiatorID: "cli"},
	}
	if f.addr != "" {
		return client.New(cfg)
	}

	c, err := a.build()
	if err != nil {
		return nil, err
	}
	svc, err := transport.NewService(c.router, c.engine, a.logger)
	if err != nil {
		return nil, err
	}
	return client.NewWithConn(transport.NewLocalConn(svc), cfg), nil
}

func newRouteCommand(a *app) *cobra.Command {
	var (
		f            callFlags
		toolID       string
		optimization string
		skipCache    bool
	)
	cmd := &cobra.Command{
		Use:   "route [intent...]",
		Short: "Route an intent, or run --tool, and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			intent := strings.Join(args, " ")
			if intent == "" && toolID == "" {
				return fmt.Errorf("an intent or --tool is required")
			}
			params, err := parseParams(f.params, f.raw)
			if err != nil {
				return err
			}
			c, err := f.dial(a)
			if err != nil {
				return err
			}
			defer c.Close()

			opts := []client.CallOption{client.WithRouteOptions(transport.RouteOptions{
				Optimization: routing.Optimization(optimization),
				SkipCache:    skipCache,
			})}
			var result *tools.ToolResult
			if toolID != "" {
				result, err = c.ExecuteTool(cmd.Context(), toolID, params, opts...)
			} else {
				result, err = c.Route(cmd.Context(), intent, params, opts...)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&toolID, "tool", "", "execute this tool id instead of routing an intent")
	cmd.Flags().StringVar(&optimization, "optimize", "", "speed, reliability or balanced")
	cmd.Flags().BoolVar(&skipCache, "no-cache", false, "bypass the result cache")
	return cmd
}

func newComposeCommand(a *app) *cobra.Command {
	var (
		f        callFlags
		template string
		execute  bool
	)
	cmd := &cobra.Command{
		Use:   "compose <intent...>",
		Short: "Plan a workflow for an intent, optionally executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(f.params, f.raw)
			if err != nil {
				return err
			}
			c, err := f.dial(a)
			if err != nil {
				return err
			}
			defer c.Close()

			var opts []client.CallOption
			if template != "" {
				opts = append(opts, client.WithTemplate(template))
			}
			intent := strings.Join(args, " ")
			resp := transport.ComposeResponse{}
			if execute {
				resp.Plan, resp.Result, err = c.Run(cmd.Context(), intent, params, opts...)
			} else {
				resp.Plan, err = c.Compose(cmd.Context(), intent, params, opts...)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&template, "template", "", "force a named template")
	cmd.Flags().BoolVar(&execute, "execute", false, "run the plan after composing it")
	return cmd
}
