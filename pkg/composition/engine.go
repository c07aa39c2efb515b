package composition

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ag-ui/go-dispatch/pkg/routing"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// Dispatcher executes a single plan step. *routing.Router implements it,
// so every step goes through breakers, the balancer and fallback.
type Dispatcher interface {
	ExecuteTool(ctx context.Context, toolID string, params map[string]interface{}, execCtx *tools.ExecutionContext, opts ...routing.RouteOption) (*tools.ToolResult, error)
}

// Engine plans and executes multi-step workflows.
type Engine struct {
	dispatcher Dispatcher
	registry   *tools.Registry
	discovery  *tools.DiscoveryService
	logger     logrus.FieldLogger

	maxParallel    int
	defaultTimeout time.Duration

	mu        sync.RWMutex
	templates []*Template
	active    map[string]*activeComposition
	patterns  map[string]*ToolPattern
	stats     compositionStats
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxParallelSteps bounds how many ready steps run at once.
func WithMaxParallelSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithDefaultTimeout sets the overall deadline for plans without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithTemplates adds templates after the built-in ones. A template with
// the name of an existing one replaces it.
func WithTemplates(list ...*Template) Option {
	return func(e *Engine) {
		for _, t := range list {
			e.putTemplate(t)
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDiscovery replaces the discovery service built over the registry.
func WithDiscovery(d *tools.DiscoveryService) Option {
	return func(e *Engine) {
		e.discovery = d
	}
}

// NewEngine creates an engine that resolves tools from registry and runs
// steps through dispatcher.
func NewEngine(dispatcher Dispatcher, registry *tools.Registry, opts ...Option) (*Engine, error) {
	builtin, err := BuiltinTemplates()
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e := &Engine{
		dispatcher:     dispatcher,
		registry:       registry,
		logger:         logger,
		maxParallel:    4,
		defaultTimeout: 2 * time.Minute,
		templates:      builtin,
		active:         make(map[string]*activeComposition),
		patterns:       make(map[string]*ToolPattern),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.discovery == nil {
		e.discovery = tools.NewDiscoveryService(registry)
	}
	for _, t := range e.templates {
		e.seedPattern(t)
	}
	return e, nil
}

func (e *Engine) putTemplate(t *Template) {
	if len(t.compiled) != len(t.Patterns) {
		if err := t.compile(); err != nil {
			e.logger.WithError(err).Warn("ignoring invalid template")
			return
		}
	}
	for i, existing := range e.templates {
		if existing.Name == t.Name {
			e.templates[i] = t
			return
		}
	}
	e.templates = append(e.templates, t)
}

// AddTemplate registers a template at runtime.
func (e *Engine) AddTemplate(t *Template) error {
	if err := t.compile(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.putTemplate(t)
	e.seedPattern(t)
	return nil
}

// GetCompositionTemplates returns the templates, optionally restricted to
// one category. An empty category returns all of them.
func (e *Engine) GetCompositionTemplates(category tools.Category) []Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Template
	for _, t := range e.templates {
		if category == "" || t.Category == category {
			out = append(out, *t)
		}
	}
	return out
}

func (e *Engine) template(name string) *Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, t := range e.templates {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (e *Engine) matchTemplates(intent string) []*Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Template
	for _, t := range e.templates {
		if t.Matches(intent) {
			out = append(out, t)
		}
	}
	return out
}

// ToolPattern is a sequence of logical tools seen in plans.
type ToolPattern struct {
	Sequence    []string  `json:"sequence"`
	Source      string    `json:"source"`
	Occurrences int64     `json:"occurrences"`
	Successes   int64     `json:"successes"`
	LastSeen    time.Time `json:"lastSeen,omitempty"`
}

// SuccessRate is Successes/Occurrences, zero before any run.
func (p ToolPattern) SuccessRate() float64 {
	if p.Occurrences == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Occurrences)
}

// seedPattern records a template's tool sequence. Must be called with
// e.mu held or before the engine is shared.
func (e *Engine) seedPattern(t *Template) {
	seq := make([]string, 0, len(t.Steps))
	for _, s := range t.Steps {
		name := s.Tool
		if name == "" {
			name = string(s.Capability)
		}
		seq = append(seq, name)
	}
	key := strings.Join(seq, " -> ")
	if _, ok := e.patterns[key]; !ok {
		e.patterns[key] = &ToolPattern{Sequence: seq, Source: "template:" + t.Name}
	}
}

func (e *Engine) observePattern(seq []string, success bool) {
	if len(seq) == 0 {
		return
	}
	key := strings.Join(seq, " -> ")
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.patterns[key]
	if !ok {
		p = &ToolPattern{Sequence: seq, Source: "observed"}
		e.patterns[key] = p
	}
	p.Occurrences++
	if success {
		p.Successes++
	}
	p.LastSeen = time.Now()
}

// GetToolPatterns returns known tool sequences, most used first.
func (e *Engine) GetToolPatterns() []ToolPattern {
	e.mu.RLock()
	out := make([]ToolPattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		cp := *p
		cp.Sequence = append([]string(nil), p.Sequence...)
		out = append(out, cp)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return strings.Join(out[i].Sequence, ",") < strings.Join(out[j].Sequence, ",")
	})
	return out
}

type compositionStats struct {
	planned     int64
	fromPlan    map[string]int64
	dynamic     int64
	executed    int64
	successful  int64
	failed      int64
	stepsRun    int64
	totalTime   time.Duration
	adaptations int64
	rejected    int64
}

// CompositionMetrics is a snapshot of engine activity.
type CompositionMetrics struct {
	PlansComposed        int64            `json:"plansComposed"`
	TemplatePlans        map[string]int64 `json:"templatePlans"`
	DynamicPlans         int64            `json:"dynamicPlans"`
	RejectedPlans        int64            `json:"rejectedPlans"`
	TotalExecutions      int64            `json:"totalExecutions"`
	SuccessfulExecutions int64            `json:"successfulExecutions"`
	FailedExecutions     int64            `json:"failedExecutions"`
	SuccessRate          float64          `json:"successRate"`
	AverageExecutionTime time.Duration    `json:"averageExecutionTime"`
	AverageStepsExecuted float64          `json:"averageStepsExecuted"`
	Adaptations          int64            `json:"adaptations"`
	ActiveCompositions   int              `json:"activeCompositions"`
}

// GetCompositionMetrics returns a snapshot of engine counters.
func (e *Engine) GetCompositionMetrics() CompositionMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.stats
	m := CompositionMetrics{
		PlansComposed:        s.planned,
		TemplatePlans:        make(map[string]int64, len(s.fromPlan)),
		DynamicPlans:         s.dynamic,
		RejectedPlans:        s.rejected,
		TotalExecutions:      s.executed,
		SuccessfulExecutions: s.successful,
		FailedExecutions:     s.failed,
		Adaptations:          s.adaptations,
		ActiveCompositions:   len(e.active),
	}
	for k, v := range s.fromPlan {
		m.TemplatePlans[k] = v
	}
	if s.executed > 0 {
		m.SuccessRate = float64(s.successful) / float64(s.executed)
		m.AverageExecutionTime = s.totalTime / time.Duration(s.executed)
		m.AverageStepsExecuted = float64(s.stepsRun) / float64(s.executed)
	}
	return m
}

type activeComposition struct {
	id        string
	plan      *Plan
	startedAt time.Time
	mu        sync.Mutex
	status    map[string]StepStatus
}

// ActiveComposition describes a plan that is currently executing.
type ActiveComposition struct {
	CompositionID  string        `json:"compositionId"`
	Intent         string        `json:"intent"`
	StartedAt      time.Time     `json:"startedAt"`
	Elapsed        time.Duration `json:"elapsed"`
	TotalSteps     int           `json:"totalSteps"`
	CompletedSteps int           `json:"completedSteps"`
	RunningSteps   []string      `json:"runningSteps"`
}

// GetActiveCompositions lists executing plans, oldest first.
func (e *Engine) GetActiveCompositions() []ActiveComposition {
	e.mu.RLock()
	list := make([]*activeComposition, 0, len(e.active))
	for _, a := range e.active {
		list = append(list, a)
	}
	e.mu.RUnlock()

	out := make([]ActiveComposition, 0, len(list))
	for _, a := range list {
		ac := ActiveComposition{
			CompositionID: a.id,
			Intent:        a.plan.Intent,
			StartedAt:     a.startedAt,
			Elapsed:       time.Since(a.startedAt),
			TotalSteps:    len(a.plan.Steps),
		}
		a.mu.Lock()
		for _, s := range a.plan.Steps {
			switch a.status[s.StepID] {
			case StepCompleted:
				ac.CompletedSteps++
			case stepRunning:
				ac.RunningSteps = append(ac.RunningSteps, s.StepID)
			}
		}
		a.mu.Unlock()
		out = append(out, ac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// stepRunning is only visible through GetActiveCompositions.
const stepRunning StepStatus = "running"

func (a *activeComposition) set(stepID string, status StepStatus) {
	a.mu.Lock()
	a.status[stepID] = status
	a.mu.Unlock()
}

func (e *Engine) logicalName(toolID string) string {
	if t := e.registry.Find(toolID); t != nil {
		return t.Logical()
	}
	return toolID
}

func compositionErr(code, format string, args ...interface{}) *tools.ToolError {
	return tools.NewCompositionError(code, fmt.Sprintf(format, args...))
}
