package composition

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// Conditions describes what changed since a plan was composed.
type Conditions struct {
	// UnavailableTools are tool ids that must no longer be used. Tools
	// missing from the registry or disabled are treated the same way.
	UnavailableTools []string `json:"unavailableTools,omitempty"`

	// ParameterOverrides replaces parameters per step id
	ParameterOverrides map[string]map[string]interface{} `json:"parameterOverrides,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// patchOperation is one RFC 6902 operation against the plan document.
type patchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// AdaptWorkflow returns a new version of plan that avoids unavailable
// tools and applies parameter overrides. Each replaced tool is swapped for
// another instance of the same logical tool, or else for a tool with the
// step's capability or intent. A required step without an alternative
// fails the adaptation; an optional one is dropped. The changes are
// applied as a JSON Patch which is kept in the plan's adaptation history.
func (e *Engine) AdaptWorkflow(plan *Plan, changed Conditions) (*Plan, error) {
	if plan == nil {
		return nil, compositionErr("EMPTY_PLAN", "no plan to adapt")
	}
	for id := range changed.ParameterOverrides {
		if _, ok := plan.Step(id); !ok {
			return nil, compositionErr("UNKNOWN_STEP", "parameter overrides given for unknown step %q", id)
		}
	}

	unavailable := make(map[string]bool, len(changed.UnavailableTools))
	for _, id := range changed.UnavailableTools {
		unavailable[id] = true
	}

	var (
		ops           []patchOperation
		substitutions []Substitution
		removed       = make(map[string]bool)
	)
	for i, step := range plan.Steps {
		if !e.usable(step.ToolID, unavailable) {
			alt, confidence, why := e.alternative(step, unavailable)
			switch {
			case alt != nil:
				base := fmt.Sprintf("/steps/%d", i)
				ops = append(ops,
					patchOperation{Op: "add", Path: base + "/toolId", Value: alt.ID},
					patchOperation{Op: "add", Path: base + "/toolName", Value: alt.Name},
					patchOperation{Op: "add", Path: base + "/confidence", Value: confidence},
				)
				substitutions = append(substitutions, Substitution{
					StepID:    step.StepID,
					From:      step.ToolID,
					To:        alt.ID,
					Reasoning: why,
				})
			case step.Optional:
				removed[step.StepID] = true
			default:
				return nil, compositionErr("NO_ALTERNATIVE",
					"step %q: tool %q is unavailable and no alternative was found", step.StepID, step.ToolID)
			}
		}

		if overrides := changed.ParameterOverrides[step.StepID]; len(overrides) > 0 {
			base := fmt.Sprintf("/steps/%d/parameters", i)
			if step.Parameters == nil {
				ops = append(ops, patchOperation{Op: "add", Path: base, Value: map[string]interface{}{}})
			}
			keys := make([]string, 0, len(overrides))
			for k := range overrides {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				ops = append(ops, patchOperation{Op: "add", Path: base + "/" + escapePointer(k), Value: overrides[k]})
			}
		}
	}

	if len(removed) > 0 {
		for i, step := range plan.Steps {
			if removed[step.StepID] || !dependsOnAny(step, removed) {
				continue
			}
			deps := make([]string, 0, len(step.DependsOn))
			for _, d := range step.DependsOn {
				if !removed[d] {
					deps = append(deps, d)
				}
			}
			ops = append(ops, patchOperation{Op: "add", Path: fmt.Sprintf("/steps/%d/dependsOn", i), Value: deps})
		}
		// removals go last, highest index first, so earlier paths stay valid
		for i := len(plan.Steps) - 1; i >= 0; i-- {
			if removed[plan.Steps[i].StepID] {
				ops = append(ops, patchOperation{Op: "remove", Path: fmt.Sprintf("/steps/%d", i)})
			}
		}
	}

	if len(ops) == 0 {
		return plan.Clone()
	}

	adapted, rawPatch, err := applyPatch(plan, ops, changed.ParameterOverrides)
	if err != nil {
		return nil, err
	}
	if err := ValidatePlan(adapted); err != nil {
		return nil, err
	}

	adapted.Version = plan.Version + 1
	adaptation := Adaptation{
		Version:       adapted.Version,
		Timestamp:     time.Now(),
		Reason:        changed.Reason,
		Substitutions: substitutions,
		Patch:         rawPatch,
	}
	for _, s := range plan.Steps {
		if removed[s.StepID] {
			adaptation.Removed = append(adaptation.Removed, s.StepID)
		}
	}
	adapted.Adaptations = append(adapted.Adaptations, adaptation)
	estimate(adapted)

	e.mu.Lock()
	e.stats.adaptations++
	e.mu.Unlock()

	e.logger.WithField("composition_id", plan.CompositionID).
		WithField("version", adapted.Version).
		WithField("substitutions", len(substitutions)).
		Info("adapted workflow")
	return adapted, nil
}

func (e *Engine) usable(toolID string, unavailable map[string]bool) bool {
	if unavailable[toolID] {
		return false
	}
	t := e.registry.Find(toolID)
	return t != nil && t.Enabled()
}

// alternative finds a replacement tool for step and explains the choice.
func (e *Engine) alternative(step Step, unavailable map[string]bool) (*tools.Tool, float64, string) {
	logical := step.ToolName
	if t := e.registry.Find(step.ToolID); t != nil {
		logical = t.Logical()
	}
	if logical != "" {
		for _, t := range e.registry.Instances(logical) {
			if t.ID != step.ToolID && !unavailable[t.ID] {
				return t, step.Confidence, fmt.Sprintf("another instance of %s", logical)
			}
		}
	}

	if step.Capability != "" {
		filter := tools.DiscoveryFilter{Capabilities: []tools.Capability{step.Capability}}
		for _, t := range e.discovery.DiscoverTools(filter) {
			if t.ID != step.ToolID && !unavailable[t.ID] {
				return t, 0.8, fmt.Sprintf("provides %s", step.Capability)
			}
		}
	}

	if step.Intent != "" {
		for _, m := range e.discovery.MatchIntent(step.Intent, 5) {
			if m.Tool.ID != step.ToolID && !unavailable[m.Tool.ID] {
				return m.Tool, m.Score, fmt.Sprintf("matches intent %q", step.Intent)
			}
		}
	}
	return nil, 0, ""
}

func applyPatch(plan *Plan, ops []patchOperation, overrides map[string]map[string]interface{}) (*Plan, json.RawMessage, error) {
	doc, err := json.Marshal(plan)
	if err != nil {
		return nil, nil, fmt.Errorf("encode plan: %w", err)
	}
	rawPatch, err := json.Marshal(ops)
	if err != nil {
		return nil, nil, fmt.Errorf("encode patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(rawPatch)
	if err != nil {
		return nil, nil, fmt.Errorf("decode patch: %w", err)
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, nil, compositionErr("ADAPTATION_FAILED", "apply patch: %v", err)
	}
	var out Plan
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, nil, fmt.Errorf("decode adapted plan: %w", err)
	}
	restoreParameters(&out, plan, overrides)
	return &out, rawPatch, nil
}

// restoreParameters puts the caller's parameter values back after the
// JSON round trip, which would otherwise turn every number into a
// float64. Overrides win over the original plan's values.
func restoreParameters(out, orig *Plan, overrides map[string]map[string]interface{}) {
	for i := range out.Steps {
		step := &out.Steps[i]
		prev, _ := orig.Step(step.StepID)
		for k := range step.Parameters {
			if v, ok := overrides[step.StepID][k]; ok {
				step.Parameters[k] = cloneValue(v)
			} else if v, ok := prev.Parameters[k]; ok {
				step.Parameters[k] = cloneValue(v)
			}
		}
	}
}

func dependsOnAny(s Step, ids map[string]bool) bool {
	for _, d := range s.DependsOn {
		if ids[d] {
			return true
		}
	}
	return false
}

// escapePointer escapes a JSON Pointer reference token.
func escapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}
