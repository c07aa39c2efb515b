package routing

import (
	"fmt"
	"time"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// Optimization selects the scoring weight set.
type Optimization string

const (
	OptimizeSpeed       Optimization = "speed"
	OptimizeReliability Optimization = "reliability"
	OptimizeBalanced    Optimization = "balanced"
)

// Strategy selects an instance among interchangeable tools.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round-robin"
	StrategyPerformanceBased Strategy = "performance-based"
	StrategyLeastLoaded      Strategy = "least-loaded"
)

// OverflowPolicy decides what happens to callers above the per-tool
// concurrency limit.
type OverflowPolicy string

const (
	OverflowQueue  OverflowPolicy = "queue"
	OverflowReject OverflowPolicy = "reject"
)

// ScoringWeights weight the normalized score components. They need not
// sum to one; the score is divided by their sum.
type ScoringWeights struct {
	SuccessRate float64 `json:"successRate" mapstructure:"success_rate"`
	Speed       float64 `json:"speed" mapstructure:"speed"`
	Load        float64 `json:"load" mapstructure:"load"`
	Relevance   float64 `json:"relevance" mapstructure:"relevance"`
}

func (w ScoringWeights) sum() float64 {
	return w.SuccessRate + w.Speed + w.Load + w.Relevance
}

// DefaultWeights returns the weight set for each optimization mode.
func DefaultWeights() map[Optimization]ScoringWeights {
	return map[Optimization]ScoringWeights{
		OptimizeSpeed:       {SuccessRate: 0.2, Speed: 0.6, Load: 0.1, Relevance: 0.1},
		OptimizeReliability: {SuccessRate: 0.6, Speed: 0.15, Load: 0.1, Relevance: 0.15},
		OptimizeBalanced:    {SuccessRate: 0.4, Speed: 0.3, Load: 0.15, Relevance: 0.15},
	}
}

// BreakerConfig configures per-tool circuit breakers.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTime     time.Duration
}

// CacheConfig configures the routing result cache.
type CacheConfig struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration

	// IgnoreParams are dropped from parameters before keying, e.g.
	// request ids that never change the outcome
	IgnoreParams []string
}

// BalancerConfig configures instance selection and per-tool limits.
type BalancerConfig struct {
	Strategy             Strategy
	MaxConcurrentPerTool int
	Overflow             OverflowPolicy
	QueueTimeout         time.Duration
}

// Config holds every router knob.
type Config struct {
	DefaultOptimization Optimization
	FallbackChainLength int
	MaxCandidates       int
	Weights             map[Optimization]ScoringWeights

	// LatencyReference is the average latency that scores 0.5 on speed
	LatencyReference time.Duration

	Breaker  BreakerConfig
	Cache    CacheConfig
	Balancer BalancerConfig
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		DefaultOptimization: OptimizeBalanced,
		FallbackChainLength: 3,
		MaxCandidates:       10,
		Weights:             DefaultWeights(),
		LatencyReference:    time.Second,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTime:     30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 1000,
			TTL:        5 * time.Minute,
		},
		Balancer: BalancerConfig{
			Strategy:             StrategyPerformanceBased,
			MaxConcurrentPerTool: 10,
			Overflow:             OverflowQueue,
			QueueTimeout:         5 * time.Second,
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if !validOptimization(c.DefaultOptimization) {
		return fmt.Errorf("unknown optimization mode %q", c.DefaultOptimization)
	}
	if c.FallbackChainLength <= 0 {
		return fmt.Errorf("fallback chain length must be positive, got %d", c.FallbackChainLength)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive, got %d", c.MaxCandidates)
	}
	if c.LatencyReference <= 0 {
		return fmt.Errorf("latency reference must be positive")
	}
	for mode, w := range c.Weights {
		if !validOptimization(mode) {
			return fmt.Errorf("weights given for unknown optimization mode %q", mode)
		}
		if w.SuccessRate < 0 || w.Speed < 0 || w.Load < 0 || w.Relevance < 0 {
			return fmt.Errorf("weights for %q cannot be negative", mode)
		}
		if w.sum() == 0 {
			return fmt.Errorf("weights for %q sum to zero", mode)
		}
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	}
	if c.Breaker.RecoveryTime <= 0 {
		return fmt.Errorf("circuit breaker recovery time must be positive")
	}
	if c.Cache.Enabled && (c.Cache.MaxEntries <= 0 || c.Cache.TTL <= 0) {
		return fmt.Errorf("cache max entries and ttl must be positive when enabled")
	}
	switch c.Balancer.Strategy {
	case StrategyRoundRobin, StrategyPerformanceBased, StrategyLeastLoaded:
	default:
		return fmt.Errorf("unknown load balancing strategy %q", c.Balancer.Strategy)
	}
	if c.Balancer.MaxConcurrentPerTool <= 0 {
		return fmt.Errorf("max concurrent executions per tool must be positive")
	}
	switch c.Balancer.Overflow {
	case OverflowQueue, OverflowReject:
	default:
		return fmt.Errorf("unknown overflow policy %q", c.Balancer.Overflow)
	}
	return nil
}

func validOptimization(o Optimization) bool {
	switch o {
	case OptimizeSpeed, OptimizeReliability, OptimizeBalanced:
		return true
	}
	return false
}

// RouteOption adjusts a single routing call.
type RouteOption func(*routeOptions)

type routeOptions struct {
	optimization   Optimization
	fallbackLength int
	maxCandidates  int
	strategy       Strategy
	category       tools.Category
	skipCache      bool
}

// WithOptimization selects the scoring weights for one call.
func WithOptimization(o Optimization) RouteOption {
	return func(r *routeOptions) {
		if validOptimization(o) {
			r.optimization = o
		}
	}
}

// WithFallbackChainLength caps the number of attempts for one call.
func WithFallbackChainLength(n int) RouteOption {
	return func(r *routeOptions) {
		if n > 0 {
			r.fallbackLength = n
		}
	}
}

// WithMaxCandidates caps how many discovered tools are scored.
func WithMaxCandidates(n int) RouteOption {
	return func(r *routeOptions) {
		if n > 0 {
			r.maxCandidates = n
		}
	}
}

// WithStrategy overrides the load balancing strategy for one call.
func WithStrategy(s Strategy) RouteOption {
	return func(r *routeOptions) {
		r.strategy = s
	}
}

// WithCategory restricts candidates to one category.
func WithCategory(c tools.Category) RouteOption {
	return func(r *routeOptions) {
		r.category = c
	}
}

// SkipCache bypasses the result cache for one call.
func SkipCache() RouteOption {
	return func(r *routeOptions) {
		r.skipCache = true
	}
}
