package composition

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// ComposeOption adjusts a single ComposeWorkflow call.
type ComposeOption func(*composeOptions)

type composeOptions struct {
	template    string
	noTemplates bool
	extraDeps   map[string][]string
	optional    map[string]bool
	timeout     time.Duration
}

// WithTemplate forces a named template instead of pattern matching.
func WithTemplate(name string) ComposeOption {
	return func(o *composeOptions) {
		o.template = name
	}
}

// WithoutTemplates skips template matching and always decomposes.
func WithoutTemplates() ComposeOption {
	return func(o *composeOptions) {
		o.noTemplates = true
	}
}

// WithExtraDependencies adds dependencies (step id -> step ids) on top of
// the ones derived from data flow.
func WithExtraDependencies(deps map[string][]string) ComposeOption {
	return func(o *composeOptions) {
		o.extraDeps = deps
	}
}

// WithOptionalSteps marks steps whose failure must not abort the plan.
func WithOptionalSteps(ids ...string) ComposeOption {
	return func(o *composeOptions) {
		if o.optional == nil {
			o.optional = make(map[string]bool)
		}
		for _, id := range ids {
			o.optional[id] = true
		}
	}
}

// WithPlanTimeout sets the plan's overall execution deadline.
func WithPlanTimeout(d time.Duration) ComposeOption {
	return func(o *composeOptions) {
		o.timeout = d
	}
}

// ComposeWorkflow builds a validated plan for a multi-step intent. A
// matching template is instantiated when all of its required steps
// resolve to tools; otherwise the intent is decomposed into sub-intents.
// Plans with dependency cycles are rejected with a composition error.
func (e *Engine) ComposeWorkflow(ctx context.Context, intent string, params map[string]interface{}, execCtx *tools.ExecutionContext, opts ...ComposeOption) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent) == "" {
		return nil, compositionErr("EMPTY_INTENT", "intent is empty")
	}

	var o composeOptions
	for _, opt := range opts {
		opt(&o)
	}
	log := e.logger.WithField("intent", intent)

	var (
		plan *Plan
		err  error
	)
	switch {
	case o.template != "":
		t := e.template(o.template)
		if t == nil {
			return nil, compositionErr("UNKNOWN_TEMPLATE", "no template named %q", o.template)
		}
		if plan, err = e.instantiate(t, intent, params); err != nil {
			return nil, err
		}
	case !o.noTemplates:
		for _, t := range e.matchTemplates(intent) {
			if plan, err = e.instantiate(t, intent, params); err == nil {
				break
			}
			log.WithError(err).WithField("template", t.Name).Debug("template does not apply")
			plan = nil
		}
	}
	if plan == nil {
		if plan, err = e.decompose(intent, params); err != nil {
			return nil, err
		}
	}

	if err := e.finalize(plan, o); err != nil {
		e.mu.Lock()
		e.stats.rejected++
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.stats.planned++
	if plan.Template != "" {
		if e.stats.fromPlan == nil {
			e.stats.fromPlan = make(map[string]int64)
		}
		e.stats.fromPlan[plan.Template]++
	} else {
		e.stats.dynamic++
	}
	e.mu.Unlock()

	log.WithFields(logrus.Fields{
		"composition_id": plan.CompositionID,
		"template":       plan.Template,
		"steps":          len(plan.Steps),
	}).Debug("composed workflow")
	return plan, nil
}

// finalize applies compose options, derives data-flow dependencies,
// orders the steps topologically and validates the result.
func (e *Engine) finalize(plan *Plan, o composeOptions) error {
	index := make(map[string]int, len(plan.Steps))
	for i, s := range plan.Steps {
		index[s.StepID] = i
	}
	for id := range o.optional {
		i, ok := index[id]
		if !ok {
			return compositionErr("UNKNOWN_STEP", "optional step %q is not in the plan", id)
		}
		plan.Steps[i].Optional = true
	}
	for id, deps := range o.extraDeps {
		i, ok := index[id]
		if !ok {
			return compositionErr("UNKNOWN_STEP", "extra dependencies given for unknown step %q", id)
		}
		plan.Steps[i].DependsOn = append(plan.Steps[i].DependsOn, deps...)
	}
	for i := range plan.Steps {
		s := &plan.Steps[i]
		s.DependsOn = uniqueStrings(append(s.DependsOn, stepRefs(s.Parameters)...))
	}

	// unknown references must be reported before ordering
	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := index[dep]; !ok {
				return compositionErr("UNKNOWN_DEPENDENCY", "step %q depends on unknown step %q", s.StepID, dep)
			}
		}
	}

	ordered, err := topoSort(plan.Steps)
	if err != nil {
		return err
	}
	plan.Steps = ordered
	if err := ValidatePlan(plan); err != nil {
		return err
	}

	plan.CompositionID = uuid.New().String()
	plan.CreatedAt = time.Now()
	plan.Version = 1
	if o.timeout > 0 {
		plan.Timeout = o.timeout
	}
	estimate(plan)
	return nil
}

// instantiate binds a template's steps to tools and parameters.
func (e *Engine) instantiate(t *Template, intent string, params map[string]interface{}) (*Plan, error) {
	plan := &Plan{Intent: intent, Template: t.Name}
	dropped := make(map[string]bool)

	for _, ts := range t.Steps {
		tool, confidence := e.resolveTemplateStep(ts)
		if tool == nil {
			if ts.Optional {
				dropped[ts.ID] = true
				continue
			}
			return nil, compositionErr("UNRESOLVED_STEP",
				"template %q step %q: no available tool provides %s", t.Name, ts.ID, ts.Capability)
		}
		plan.Steps = append(plan.Steps, Step{
			StepID:     ts.ID,
			ToolID:     tool.ID,
			ToolName:   tool.Name,
			Capability: ts.Capability,
			Intent:     ts.Intent,
			Parameters: bindParams(ts.Parameters, params),
			DependsOn:  append([]string(nil), ts.DependsOn...),
			Confidence: confidence,
			Optional:   ts.Optional,
		})
	}

	if len(dropped) > 0 {
		for i := range plan.Steps {
			deps := plan.Steps[i].DependsOn[:0]
			for _, d := range plan.Steps[i].DependsOn {
				if !dropped[d] {
					deps = append(deps, d)
				}
			}
			plan.Steps[i].DependsOn = deps
		}
	}
	return plan, nil
}

// resolveTemplateStep prefers the named tool (or an instance of that
// logical tool) and falls back to any tool with the step's capability.
func (e *Engine) resolveTemplateStep(ts TemplateStep) (*tools.Tool, float64) {
	if ts.Tool != "" {
		if tool := e.discovery.FindTool(ts.Tool); tool != nil && (ts.Capability == "" || tool.HasCapability(ts.Capability)) {
			return tool, 0.95
		}
		if instances := e.registry.Instances(ts.Tool); len(instances) > 0 {
			return instances[0], 0.95
		}
	}
	if ts.Capability == "" {
		return nil, 0
	}
	filter := tools.DiscoveryFilter{Capabilities: []tools.Capability{ts.Capability}, Query: ts.Intent}
	found := e.discovery.DiscoverTools(filter)
	if len(found) == 0 {
		filter.Query = ""
		found = e.discovery.DiscoverTools(filter)
	}
	if len(found) == 0 {
		return nil, 0
	}
	return found[0], 0.8
}

var (
	sequentialSep = regexp.MustCompile(`(?i)\s*[,;]?\s*\b(?:and then|then|after that|afterwards|followed by|finally)\b\s*|\s*;\s*`)
	parallelSep   = regexp.MustCompile(`(?i)\s+\band\b\s+`)
)

// dataInputs are parameter names that receive the previous step's output
// when the caller did not supply them.
var dataInputs = []string{"content", "body", "text", "input", "data"}

// decompose splits the intent into sequential stages ("then", "after
// that", ";") of parallel sub-intents ("and"). Each step depends on every
// step of the previous stage.
func (e *Engine) decompose(intent string, params map[string]interface{}) (*Plan, error) {
	plan := &Plan{Intent: intent}
	var previous []string
	n := 0

	for _, stage := range splitClean(sequentialSep, intent) {
		parts := splitClean(parallelSep, stage)
		resolved := make([]tools.ScoredTool, 0, len(parts))
		for _, part := range parts {
			match := e.discovery.MatchIntent(part, 1)
			if len(match) == 0 {
				resolved = nil
				break
			}
			resolved = append(resolved, match[0])
		}
		if len(resolved) == 0 || len(parts) == 1 {
			match := e.discovery.MatchIntent(stage, 1)
			if len(match) == 0 {
				return nil, compositionErr("UNRESOLVED_INTENT", "no tool can handle %q", stage)
			}
			parts, resolved = []string{stage}, match
		}

		var current []string
		for i, part := range parts {
			n++
			id := fmt.Sprintf("step_%d", n)
			tool := resolved[i].Tool
			plan.Steps = append(plan.Steps, Step{
				StepID:     id,
				ToolID:     tool.ID,
				ToolName:   tool.Name,
				Capability: primaryCapability(tool, part),
				Intent:     part,
				Parameters: stepParams(tool, params, previous),
				DependsOn:  append([]string(nil), previous...),
				Confidence: resolved[i].Score,
			})
			current = append(current, id)
		}
		previous = current
	}

	if len(plan.Steps) == 0 {
		return nil, compositionErr("UNRESOLVED_INTENT", "no tool can handle %q", intent)
	}
	return plan, nil
}

func splitClean(re *regexp.Regexp, s string) []string {
	var out []string
	for _, part := range re.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// stepParams picks the caller parameters the tool declares (all of them
// for tools without declared properties) and wires the first free data
// input to the previous step's output.
func stepParams(tool *tools.Tool, params map[string]interface{}, previous []string) map[string]interface{} {
	out := make(map[string]interface{})
	var props map[string]*tools.Property
	if tool.Schema != nil {
		props = tool.Schema.Properties
	}
	for k, v := range params {
		if len(props) == 0 || props[k] != nil {
			out[k] = v
		}
	}
	if len(previous) > 0 {
		for _, name := range dataInputs {
			if props[name] == nil {
				continue
			}
			if _, set := out[name]; !set {
				out[name] = "{{steps." + previous[0] + ".data}}"
			}
			break
		}
	}
	return out
}

func primaryCapability(tool *tools.Tool, intent string) tools.Capability {
	if len(tool.Capabilities) == 0 {
		return ""
	}
	tokens := strings.ToLower(intent)
	for _, c := range tool.Capabilities {
		for _, kw := range tools.DefaultCapabilityLexicon[c] {
			if strings.Contains(tokens, kw) {
				return c
			}
		}
	}
	return tool.Capabilities[0]
}
