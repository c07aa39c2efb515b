package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ag-ui/go-dispatch/pkg/composition"
	"github.com/ag-ui/go-dispatch/pkg/routing"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// EnvPrefix prefixes environment overrides, e.g. DISPATCH_LOG_LEVEL.
const EnvPrefix = "DISPATCH"

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError represents configuration-related errors
type ConfigError struct {
	Field string
	Value any
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field %s (value: %v): %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func invalid(field string, value any, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: fmt.Errorf(format, args...)}
}

// Config is the full process configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Router      RouterConfig      `mapstructure:"router"`
	Composition CompositionConfig `mapstructure:"composition"`
	Server      ServerConfig      `mapstructure:"server"`
	Tools       ToolsConfig       `mapstructure:"tools"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ExecutorConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
}

type RouterConfig struct {
	DefaultOptimization string                            `mapstructure:"default_optimization"`
	FallbackChainLength int                               `mapstructure:"fallback_chain_length"`
	MaxCandidates       int                               `mapstructure:"max_candidates"`
	Weights             map[string]routing.ScoringWeights `mapstructure:"weights"`
	LatencyReference    time.Duration                     `mapstructure:"latency_reference"`
	CircuitBreaker      BreakerConfig                     `mapstructure:"circuit_breaker"`
	Cache               CacheConfig                       `mapstructure:"cache"`
	LoadBalancer        BalancerConfig                    `mapstructure:"load_balancer"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTime     time.Duration `mapstructure:"recovery_time"`
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxEntries   int           `mapstructure:"max_entries"`
	TTL          time.Duration `mapstructure:"ttl"`
	IgnoreParams []string      `mapstructure:"ignore_params"`
}

type BalancerConfig struct {
	Strategy             string        `mapstructure:"strategy"`
	MaxConcurrentPerTool int           `mapstructure:"max_concurrent_per_tool"`
	Overflow             string        `mapstructure:"overflow"`
	QueueTimeout         time.Duration `mapstructure:"queue_timeout"`
}

type CompositionConfig struct {
	MaxParallelSteps int           `mapstructure:"max_parallel_steps"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`

	// TemplatesFile adds YAML templates to the built-in catalog
	TemplatesFile string `mapstructure:"templates_file"`
}

type ServerConfig struct {
	GRPCAddress    string        `mapstructure:"grpc_address"`
	MonitorAddress string        `mapstructure:"monitor_address"`
	MaxConnections int           `mapstructure:"max_connections"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
}

type ToolsConfig struct {
	// FileRoots enables the file_read built-in for files under these
	// directories; empty leaves it unregistered
	FileRoots []string `mapstructure:"file_roots"`

	// AllowPrivateNetworks lets http_get reach loopback and private
	// addresses
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// SetDefaults registers every key with its default so that environment
// overrides apply to keys missing from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("executor.default_timeout", 30*time.Second)
	v.SetDefault("executor.max_concurrent", 100)

	rc := routing.DefaultConfig()
	v.SetDefault("router.default_optimization", string(rc.DefaultOptimization))
	v.SetDefault("router.fallback_chain_length", rc.FallbackChainLength)
	v.SetDefault("router.max_candidates", rc.MaxCandidates)
	v.SetDefault("router.latency_reference", rc.LatencyReference)
	for mode, w := range rc.Weights {
		prefix := "router.weights." + string(mode) + "."
		v.SetDefault(prefix+"success_rate", w.SuccessRate)
		v.SetDefault(prefix+"speed", w.Speed)
		v.SetDefault(prefix+"load", w.Load)
		v.SetDefault(prefix+"relevance", w.Relevance)
	}
	v.SetDefault("router.circuit_breaker.failure_threshold", rc.Breaker.FailureThreshold)
	v.SetDefault("router.circuit_breaker.recovery_time", rc.Breaker.RecoveryTime)
	v.SetDefault("router.cache.enabled", rc.Cache.Enabled)
	v.SetDefault("router.cache.max_entries", rc.Cache.MaxEntries)
	v.SetDefault("router.cache.ttl", rc.Cache.TTL)
	v.SetDefault("router.cache.ignore_params", []string{})
	v.SetDefault("router.load_balancer.strategy", string(rc.Balancer.Strategy))
	v.SetDefault("router.load_balancer.max_concurrent_per_tool", rc.Balancer.MaxConcurrentPerTool)
	v.SetDefault("router.load_balancer.overflow", string(rc.Balancer.Overflow))
	v.SetDefault("router.load_balancer.queue_timeout", rc.Balancer.QueueTimeout)

	v.SetDefault("composition.max_parallel_steps", 4)
	v.SetDefault("composition.default_timeout", 2*time.Minute)
	v.SetDefault("composition.templates_file", "")

	v.SetDefault("server.grpc_address", ":7070")
	v.SetDefault("server.monitor_address", ":7071")
	v.SetDefault("server.max_connections", 256)
	v.SetDefault("server.stream_interval", 2*time.Second)

	v.SetDefault("tools.file_roots", []string{})
	v.SetDefault("tools.allow_private_networks", false)
}

// New returns a viper instance with defaults and DISPATCH_ environment
// overrides. A non-empty path is read as the config file; its format
// follows the extension.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads, decodes and validates the configuration.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg, err := FromViper(func() *viper.Viper {
		v := viper.New()
		SetDefaults(v)
		return v
	}())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Validate reports the first invalid setting as a *ConfigError.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return &ConfigError{Field: "log.level", Value: c.Log.Level, Err: err}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", c.Log.Format, "must be text or json")
	}

	if c.Executor.DefaultTimeout <= 0 {
		return invalid("executor.default_timeout", c.Executor.DefaultTimeout, "must be positive")
	}
	if c.Executor.MaxConcurrent <= 0 {
		return invalid("executor.max_concurrent", c.Executor.MaxConcurrent, "must be positive")
	}

	if err := c.RoutingConfig().Validate(); err != nil {
		return &ConfigError{Field: "router", Value: c.Router.DefaultOptimization, Err: err}
	}

	if c.Composition.MaxParallelSteps <= 0 {
		return invalid("composition.max_parallel_steps", c.Composition.MaxParallelSteps, "must be positive")
	}
	if c.Composition.DefaultTimeout <= 0 {
		return invalid("composition.default_timeout", c.Composition.DefaultTimeout, "must be positive")
	}

	if c.Server.GRPCAddress == "" {
		return invalid("server.grpc_address", c.Server.GRPCAddress, "cannot be empty")
	}
	if c.Server.MaxConnections <= 0 {
		return invalid("server.max_connections", c.Server.MaxConnections, "must be positive")
	}
	if c.Server.StreamInterval <= 0 {
		return invalid("server.stream_interval", c.Server.StreamInterval, "must be positive")
	}
	return nil
}

// RoutingConfig converts the router section. Weight sets missing from
// the file keep their defaults.
func (c *Config) RoutingConfig() routing.Config {
	rc := routing.DefaultConfig()
	r := c.Router
	rc.DefaultOptimization = routing.Optimization(r.DefaultOptimization)
	rc.FallbackChainLength = r.FallbackChainLength
	rc.MaxCandidates = r.MaxCandidates
	rc.LatencyReference = r.LatencyReference
	for mode, w := range r.Weights {
		rc.Weights[routing.Optimization(mode)] = w
	}
	rc.Breaker = routing.BreakerConfig{
		FailureThreshold: r.CircuitBreaker.FailureThreshold,
		RecoveryTime:     r.CircuitBreaker.RecoveryTime,
	}
	rc.Cache = routing.CacheConfig{
		Enabled:      r.Cache.Enabled,
		MaxEntries:   r.Cache.MaxEntries,
		TTL:          r.Cache.TTL,
		IgnoreParams: append([]string(nil), r.Cache.IgnoreParams...),
	}
	rc.Balancer = routing.BalancerConfig{
		Strategy:             routing.Strategy(r.LoadBalancer.Strategy),
		MaxConcurrentPerTool: r.LoadBalancer.MaxConcurrentPerTool,
		Overflow:             routing.OverflowPolicy(r.LoadBalancer.Overflow),
		QueueTimeout:         r.LoadBalancer.QueueTimeout,
	}
	return rc
}

// ExecutorOptions converts the executor section.
func (c *Config) ExecutorOptions(logger logrus.FieldLogger) []tools.ExecutorOption {
	opts := []tools.ExecutorOption{
		tools.WithMaxConcurrent(c.Executor.MaxConcurrent),
		tools.WithDefaultTimeout(c.Executor.DefaultTimeout),
	}
	if logger != nil {
		opts = append(opts, tools.WithExecutorLogger(logger))
	}
	return opts
}

// BuiltinOptions converts the tools section into built-in tool options.
func (c *Config) BuiltinOptions() *tools.BuiltinToolsOptions {
	httpOpts := tools.DefaultSecureHTTPOptions()
	httpOpts.AllowPrivateNetworks = c.Tools.AllowPrivateNetworks
	opts := &tools.BuiltinToolsOptions{HTTPOptions: httpOpts}
	if len(c.Tools.FileRoots) > 0 {
		fileOpts := tools.DefaultSecureFileOptions()
		fileOpts.AllowedPaths = append([]string(nil), c.Tools.FileRoots...)
		opts.FileOptions = fileOpts
	}
	return opts
}

// CompositionOptions converts the composition section, loading the
// templates file when one is configured.
func (c *Config) CompositionOptions(logger logrus.FieldLogger) ([]composition.Option, error) {
	opts := []composition.Option{
		composition.WithMaxParallelSteps(c.Composition.MaxParallelSteps),
		composition.WithDefaultTimeout(c.Composition.DefaultTimeout),
	}
	if logger != nil {
		opts = append(opts, composition.WithLogger(logger))
	}
	if c.Composition.TemplatesFile != "" {
		templates, err := composition.LoadTemplatesFile(c.Composition.TemplatesFile)
		if err != nil {
			return nil, &ConfigError{Field: "composition.templates_file", Value: c.Composition.TemplatesFile, Err: err}
		}
		opts = append(opts, composition.WithTemplates(templates...))
	}
	return opts, nil
}

// NewLogger builds a logger from the log section.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, &ConfigError{Field: "log.level", Value: c.Log.Level, Err: err}
	}
	logger := logrus.New()
	logger.SetLevel(level)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
