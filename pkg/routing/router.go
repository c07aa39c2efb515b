package routing

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// Router resolves an intent to candidate tools, scores them, consults the
// result cache and executes the best candidate through the Executor,
// falling back to the next candidate on failure.
type Router struct {
	registry  *tools.Registry
	executor  *tools.Executor
	discovery *tools.DiscoveryService

	cfg      Config
	scorer   *Scorer
	breakers *BreakerSet
	cache    *ResultCache
	balancer *LoadBalancer
	keyFunc  KeyFunc
	metrics  *Metrics
	logger   logrus.FieldLogger

	hooksMu    sync.RWMutex
	stateHooks []StateChangeFunc

	totalRequests   atomic.Int64
	totalExecutions atomic.Int64
	successful      atomic.Int64
	failed          atomic.Int64
	fallbacks       atomic.Int64
	circuitRejects  atomic.Int64
	inFlight        atomic.Int64
	latencyTotal    atomic.Int64
}

// Option configures a Router.
type Option func(*Router)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(r *Router) {
		r.cfg = cfg
	}
}

// WithLogger sets the router logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics enables Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithDiscovery replaces the discovery service built over the registry.
func WithDiscovery(d *tools.DiscoveryService) Option {
	return func(r *Router) {
		r.discovery = d
	}
}

// WithCacheKeyFunc replaces the cache key derivation.
func WithCacheKeyFunc(fn KeyFunc) Option {
	return func(r *Router) {
		r.keyFunc = fn
	}
}

// WithBreakerStateHook observes circuit breaker transitions.
func WithBreakerStateHook(fn StateChangeFunc) Option {
	return func(r *Router) {
		if fn != nil {
			r.stateHooks = append(r.stateHooks, fn)
		}
	}
}

// NewRouter creates a router executing through executor. The registry
// must be the one the executor resolves tools from.
func NewRouter(registry *tools.Registry, executor *tools.Executor, opts ...Option) (*Router, error) {
	r := &Router{
		registry: registry,
		executor: executor,
		cfg:      DefaultConfig(),
		logger:   discardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router config: %w", err)
	}

	if r.discovery == nil {
		r.discovery = tools.NewDiscoveryService(registry)
	}
	if r.keyFunc == nil {
		r.keyFunc = DefaultKeyFunc(r.cfg.Cache.IgnoreParams)
	}
	r.scorer = NewScorer(r.cfg)
	r.breakers = NewBreakerSet(r.cfg.Breaker, r.onBreakerChange)
	r.balancer = NewLoadBalancer(r.cfg.Balancer)
	if r.cfg.Cache.Enabled {
		r.cache = NewResultCache(r.cfg.Cache.MaxEntries, r.cfg.Cache.TTL)
	}
	return r, nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (r *Router) onBreakerChange(toolID string, from, to BreakerState) {
	log := r.logger.WithFields(logrus.Fields{"tool_id": toolID, "from": from, "state": to})
	if to == StateOpen {
		log.Warn("circuit breaker opened")
	} else {
		log.Info("circuit breaker state changed")
	}
	r.metrics.setBreakerState(toolID, to)

	r.hooksMu.RLock()
	hooks := append([]StateChangeFunc(nil), r.stateHooks...)
	r.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(toolID, from, to)
	}
}

// AddBreakerStateHook registers another transition observer.
func (r *Router) AddBreakerStateHook(fn StateChangeFunc) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.stateHooks = append(r.stateHooks, fn)
}

func (r *Router) routeOptions(opts []RouteOption) routeOptions {
	o := routeOptions{
		optimization:   r.cfg.DefaultOptimization,
		fallbackLength: r.cfg.FallbackChainLength,
		maxCandidates:  r.cfg.MaxCandidates,
		strategy:       r.cfg.Balancer.Strategy,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// match is a discovered tool with its relevance to the request.
type match struct {
	tool      *tools.Tool
	relevance float64
}

// RouteIntelligently executes the best tool for a natural-language intent.
// It returns the tool's result, or a typed error once every candidate in
// the fallback chain has failed or none is available.
func (r *Router) RouteIntelligently(ctx context.Context, intent string, params map[string]interface{}, execCtx *tools.ExecutionContext, opts ...RouteOption) (*tools.ToolResult, error) {
	o := r.routeOptions(opts)

	var matches []match
	for _, s := range r.discovery.MatchIntent(intent, 0) {
		if o.category != "" && s.Tool.Category != o.category {
			continue
		}
		matches = append(matches, match{tool: s.Tool, relevance: s.Score})
		if len(matches) == o.maxCandidates {
			break
		}
	}
	return r.route(ctx, intent, params, execCtx, matches, o)
}

// ExecuteTool runs a known tool through the breaker, balancer and
// fallback chain, treating every enabled instance sharing its logical
// name as interchangeable.
func (r *Router) ExecuteTool(ctx context.Context, toolID string, params map[string]interface{}, execCtx *tools.ExecutionContext, opts ...RouteOption) (*tools.ToolResult, error) {
	tool := r.registry.Find(toolID)
	if tool == nil || tool.Disabled {
		r.totalRequests.Add(1)
		r.failed.Add(1)
		return nil, tools.NewToolNotFoundError(toolID)
	}

	instances := r.registry.Instances(tool.Logical())
	matches := make([]match, 0, len(instances))
	for _, inst := range instances {
		// the requested instance is preferred on otherwise equal scores
		rel := 0.9
		if inst.ID == tool.ID {
			rel = 1
		}
		matches = append(matches, match{tool: inst, relevance: rel})
	}
	return r.route(ctx, "tool:"+tool.Logical(), params, execCtx, matches, r.routeOptions(opts))
}

func (r *Router) route(ctx context.Context, intent string, params map[string]interface{}, execCtx *tools.ExecutionContext, matches []match, o routeOptions) (*tools.ToolResult, error) {
	started := time.Now()
	r.totalRequests.Add(1)
	r.inFlight.Add(1)
	r.metrics.trackActive(1)
	defer func() {
		r.inFlight.Add(-1)
		r.metrics.trackActive(-1)
		r.latencyTotal.Add(int64(time.Since(started)))
	}()

	log := r.logger.WithField("intent", intent)

	if len(matches) == 0 {
		r.failed.Add(1)
		r.metrics.observeRequest("not_found")
		return nil, tools.NewToolError(tools.ErrorTypeNotFound, "NO_CANDIDATES",
			fmt.Sprintf("no tool matches intent %q", intent))
	}

	var (
		result *tools.ToolResult
		err    error
	)
	if r.cache != nil && !o.skipCache {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.tool.ID)
		}
		key, keyErr := r.keyFunc(KeyInput{Intent: intent, Params: params, Context: execCtx, CandidateIDs: ids})
		if keyErr != nil {
			log.WithError(keyErr).Debug("cache key unavailable, routing uncached")
			result, _, err = r.dispatch(ctx, intent, params, execCtx, matches, o)
		} else {
			var hit bool
			result, hit, err = r.cache.GetOrCompute(ctx, key, func(cctx context.Context) (*tools.ToolResult, bool, error) {
				res, tool, derr := r.dispatch(cctx, intent, params, execCtx, matches, o)
				return res, tool != nil && !tool.NonCacheable, derr
			})
			r.metrics.observeCache(hit)
			if hit {
				log.Debug("served from cache")
			}
		}
	} else {
		result, _, err = r.dispatch(ctx, intent, params, execCtx, matches, o)
	}

	if err != nil {
		r.failed.Add(1)
		r.metrics.observeRequest(string(tools.TypeOf(err)))
		return result, err
	}
	r.successful.Add(1)
	r.metrics.observeRequest("success")
	return result, nil
}

// rank scores the usable matches. It also reports why matches were
// excluded so an empty ranking can be explained.
func (r *Router) rank(matches []match, execCtx *tools.ExecutionContext, mode Optimization) (ranked []Candidate, open []string, retryAfter time.Duration, denied int) {
	tracker := r.executor.Tracker()
	retryAfter = time.Duration(math.MaxInt64)
	for _, m := range matches {
		if !permitted(m.tool, execCtx) {
			denied++
			continue
		}
		b := r.breakers.get(m.tool.ID)
		state, ok := b.available()
		if !ok {
			open = append(open, m.tool.ID)
			if ra := b.retryAfter(); ra < retryAfter {
				retryAfter = ra
			}
			continue
		}
		metric, has := tracker.Get(m.tool.ID)
		ranked = append(ranked, r.scorer.Score(m.tool, metric, has,
			r.balancer.Active(m.tool.ID), m.relevance, state, mode))
	}
	if len(open) == 0 {
		retryAfter = 0
	}
	sortCandidates(ranked)
	return ranked, open, retryAfter, denied
}

func permitted(tool *tools.Tool, execCtx *tools.ExecutionContext) bool {
	if tool.Requires == nil {
		return true
	}
	if execCtx == nil {
		return false
	}
	for _, p := range tool.Requires.Permissions {
		if !execCtx.HasPermission(p) {
			return false
		}
	}
	for _, c := range tool.Requires.Capabilities {
		if !execCtx.HasCapability(c) {
			return false
		}
	}
	return true
}

// chain orders ranked candidates for the fallback loop: the balancer's
// pick within the best logical tool first, the rest of that group next,
// then the other groups in score order.
func (r *Router) chain(ranked []Candidate, o routeOptions) []Candidate {
	var groups []string
	byGroup := make(map[string][]Candidate)
	for _, c := range ranked {
		name := c.Tool.Logical()
		if _, seen := byGroup[name]; !seen {
			groups = append(groups, name)
		}
		byGroup[name] = append(byGroup[name], c)
	}

	out := make([]Candidate, 0, len(ranked))
	for gi, name := range groups {
		group := byGroup[name]
		if gi == 0 && len(group) > 1 {
			pick := r.balancer.Select(name, group, o.strategy)
			out = append(out, group[pick])
			for i, c := range group {
				if i != pick {
					out = append(out, c)
				}
			}
			continue
		}
		out = append(out, group...)
	}
	if len(out) > o.fallbackLength {
		out = out[:o.fallbackLength]
	}
	return out
}

// dispatch runs the fallback loop. It returns the executed tool on
// success.
func (r *Router) dispatch(ctx context.Context, intent string, params map[string]interface{}, execCtx *tools.ExecutionContext, matches []match, o routeOptions) (*tools.ToolResult, *tools.Tool, error) {
	log := r.logger.WithField("intent", intent)

	ranked, open, retryAfter, denied := r.rank(matches, execCtx, o.optimization)
	if len(ranked) == 0 {
		if len(open) > 0 {
			r.circuitRejects.Add(1)
			log.WithField("open", open).Debug("every candidate is behind an open circuit")
			return nil, nil, tools.NewCircuitOpenError(strings.Join(open, ","), retryAfter)
		}
		return nil, nil, tools.NewToolError(tools.ErrorTypeValidation, "INSUFFICIENT_CONTEXT",
			fmt.Sprintf("execution context lacks the grants required by all %d candidates", denied))
	}

	var (
		lastErr    error
		lastResult *tools.ToolResult
	)
	attempts := r.chain(ranked, o)
	for i, cand := range attempts {
		tool := cand.Tool
		alog := log.WithFields(logrus.Fields{"tool_id": tool.ID, "attempt": i + 1})
		if i > 0 {
			r.fallbacks.Add(1)
			r.metrics.incFallback()
			alog.WithError(lastErr).Info("falling back to next candidate")
		}

		b := r.breakers.get(tool.ID)
		if !b.allow() {
			r.circuitRejects.Add(1)
			lastErr = tools.NewCircuitOpenError(tool.ID, b.retryAfter())
			continue
		}

		release, err := r.balancer.Acquire(ctx, tool.ID)
		if err != nil {
			b.release()
			lastErr = err
			if !tools.IsRetryableFailure(err) {
				return nil, nil, err
			}
			continue
		}

		res, err := r.executor.Execute(ctx, tool.ID, params, execCtx)
		release()
		r.totalExecutions.Add(1)

		if err == nil {
			b.recordSuccess()
			r.metrics.observeExecution(tool.ID, "success", res.Duration)
			return res, tool, nil
		}

		duration := time.Duration(0)
		if res != nil {
			duration = res.Duration
		}
		r.metrics.observeExecution(tool.ID, string(tools.TypeOf(err)), duration)
		alog.WithError(err).Debug("attempt failed")

		lastErr, lastResult = err, res
		if ctx.Err() != nil {
			// the caller gave up; that says nothing about the tool
			b.release()
			return res, nil, err
		}
		switch tools.TypeOf(err) {
		case tools.ErrorTypeExecution, tools.ErrorTypeTimeout:
			b.recordFailure()
		default:
			b.release()
		}
		if !tools.IsRetryableFailure(err) {
			return res, nil, err
		}
	}

	return lastResult, nil, fmt.Errorf("all %d candidates failed for %q: %w", len(attempts), intent, lastErr)
}

// GetOptimalToolInstance ranks the instances of a logical tool (or of
// the tool named toolName) and returns the one the balancer would pick,
// without executing anything.
func (r *Router) GetOptimalToolInstance(toolName string, execCtx *tools.ExecutionContext, opts ...RouteOption) (*tools.Tool, error) {
	o := r.routeOptions(opts)

	instances := r.registry.Instances(toolName)
	if len(instances) == 0 {
		tool := r.registry.Find(toolName)
		if tool == nil || tool.Disabled {
			return nil, tools.NewToolNotFoundError(toolName)
		}
		instances = r.registry.Instances(tool.Logical())
	}

	matches := make([]match, 0, len(instances))
	for _, inst := range instances {
		matches = append(matches, match{tool: inst, relevance: 1})
	}
	ranked, open, retryAfter, _ := r.rank(matches, execCtx, o.optimization)
	if len(ranked) == 0 {
		if len(open) > 0 {
			return nil, tools.NewCircuitOpenError(strings.Join(open, ","), retryAfter)
		}
		return nil, tools.NewToolError(tools.ErrorTypeValidation, "INSUFFICIENT_CONTEXT",
			fmt.Sprintf("execution context lacks the grants required by %q", toolName))
	}
	pick := r.balancer.Select(ranked[0].Tool.Logical(), ranked, o.strategy)
	return ranked[pick].Tool, nil
}

// RankCandidates exposes the scored candidates for an intent, best first.
func (r *Router) RankCandidates(intent string, execCtx *tools.ExecutionContext, opts ...RouteOption) []Candidate {
	o := r.routeOptions(opts)
	var matches []match
	for _, s := range r.discovery.MatchIntent(intent, o.maxCandidates) {
		matches = append(matches, match{tool: s.Tool, relevance: s.Score})
	}
	ranked, _, _, _ := r.rank(matches, execCtx, o.optimization)
	return ranked
}

// RoutingStats is a monitoring snapshot of router activity.
type RoutingStats struct {
	TotalRequests         int64         `json:"totalRequests"`
	TotalExecutions       int64         `json:"totalExecutions"`
	SuccessfulRequests    int64         `json:"successfulRequests"`
	FailedRequests        int64         `json:"failedRequests"`
	CacheHits             int64         `json:"cacheHits"`
	CacheMisses           int64         `json:"cacheMisses"`
	CacheHitRate          float64       `json:"cacheHitRate"`
	CacheEntries          int           `json:"cacheEntries"`
	AverageRoutingLatency time.Duration `json:"averageRoutingLatency"`
	ActiveExecutions      int           `json:"activeExecutions"`
	ActiveRequests        int64         `json:"activeRequests"`
	Fallbacks             int64         `json:"fallbacks"`
	CircuitOpenRejections int64         `json:"circuitOpenRejections"`
}

// GetRoutingStats returns a snapshot of router counters.
func (r *Router) GetRoutingStats() RoutingStats {
	s := RoutingStats{
		TotalRequests:         r.totalRequests.Load(),
		TotalExecutions:       r.totalExecutions.Load(),
		SuccessfulRequests:    r.successful.Load(),
		FailedRequests:        r.failed.Load(),
		ActiveExecutions:      r.executor.ActiveExecutions(),
		ActiveRequests:        r.inFlight.Load(),
		Fallbacks:             r.fallbacks.Load(),
		CircuitOpenRejections: r.circuitRejects.Load(),
	}
	if r.cache != nil {
		s.CacheHits, s.CacheMisses = r.cache.Stats()
		s.CacheEntries = r.cache.Len()
		if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
			s.CacheHitRate = float64(s.CacheHits) / float64(lookups)
		}
	}
	if s.TotalRequests > 0 {
		s.AverageRoutingLatency = time.Duration(r.latencyTotal.Load() / s.TotalRequests)
	}
	return s
}

// GetPerformanceMetrics returns the per-tool performance aggregates.
func (r *Router) GetPerformanceMetrics() map[string]tools.PerformanceMetric {
	return r.executor.Tracker().Snapshot()
}

// GetCircuitBreakerStatus returns a breaker snapshot for every registered
// tool, plus any tool that has been routed to since.
func (r *Router) GetCircuitBreakerStatus() map[string]CircuitBreakerState {
	out := make(map[string]CircuitBreakerState)
	for _, tool := range r.registry.ListAll() {
		out[tool.ID] = r.breakers.State(tool.ID)
	}
	for _, s := range r.breakers.Snapshot() {
		out[s.ToolID] = s
	}
	return out
}

// ClearCache evicts every cached result; the next call is a miss.
func (r *Router) ClearCache() {
	if r.cache != nil {
		r.cache.Clear()
	}
	r.logger.Info("routing cache cleared")
}

// ResetCircuitBreaker closes the breaker for toolID, or every breaker
// when toolID is empty.
func (r *Router) ResetCircuitBreaker(toolID string) {
	if toolID != "" {
		r.breakers.Reset(toolID)
		return
	}
	for _, s := range r.breakers.Snapshot() {
		r.breakers.Reset(s.ToolID)
	}
}

// UnregisterTool removes a tool from the registry and drops its breaker.
// It is idempotent.
func (r *Router) UnregisterTool(toolID string) bool {
	removed := r.registry.Unregister(toolID)
	r.breakers.Forget(toolID)
	return removed
}

// Registry returns the registry the router resolves tools from.
func (r *Router) Registry() *tools.Registry {
	return r.registry
}

// Discovery returns the discovery service used for intent matching.
func (r *Router) Discovery() *tools.DiscoveryService {
	return r.discovery
}

// Balancer returns the load balancer.
func (r *Router) Balancer() *LoadBalancer {
	return r.balancer
}

// Config returns the effective configuration.
func (r *Router) Config() Config {
	return r.cfg
}
