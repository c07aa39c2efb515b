package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ag-ui/go-dispatch/pkg/composition"
	"github.com/ag-ui/go-dispatch/pkg/config"
	"github.com/ag-ui/go-dispatch/pkg/routing"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// app holds state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logrus.Logger
}

// init loads configuration and builds the logger. Flags win over the
// file and environment.
func (a *app) init(cmd *cobra.Command) error {
	v, err := config.New(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		v.Set("log.level", a.logLevel)
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	logger.SetOutput(cmd.ErrOrStderr())

	a.cfg = cfg
	a.logger = logger
	return nil
}

// components is an in-process dispatch stack.
type components struct {
	registry *tools.Registry
	router   *routing.Router
	engine   *composition.Engine
	metrics  *prometheus.Registry
}

// build wires registry, executor, router and engine from the loaded
// configuration, with the built-in utility tools registered.
func (a *app) build() (*components, error) {
	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltinTools(reg, a.cfg.BuiltinOptions()); err != nil {
		return nil, err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	executor := tools.NewExecutor(reg, a.cfg.ExecutorOptions(a.logger)...)
	router, err := routing.NewRouter(reg, executor,
		routing.WithConfig(a.cfg.RoutingConfig()),
		routing.WithLogger(a.logger),
		routing.WithMetrics(routing.MustNewMetrics(metrics)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	opts, err := a.cfg.CompositionOptions(a.logger)
	if err != nil {
		return nil, err
	}
	engine, err := composition.NewEngine(router, reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating composition engine: %w", err)
	}
	return &components{registry: reg, router: router, engine: engine, metrics: metrics}, nil
}

// parseParams turns key=value pairs into a parameter map. Values that
// parse as JSON keep their type; anything else is a string.
func parseParams(pairs []string, raw string) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, fmt.Errorf("invalid --params JSON: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
