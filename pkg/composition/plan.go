package composition

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// Complexity is a coarse estimate of how involved a plan is.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Step is one tool call in a plan.
type Step struct {
	StepID     string                 `json:"stepId"`
	ToolID     string                 `json:"toolId"`
	ToolName   string                 `json:"toolName,omitempty"`
	Capability tools.Capability       `json:"capability,omitempty"`
	Intent     string                 `json:"intent,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	DependsOn  []string               `json:"dependsOn,omitempty"`
	Confidence float64                `json:"confidence"`

	// Optional steps may fail without aborting the plan
	Optional bool `json:"optional,omitempty"`
}

// Plan is an ordered, dependency-annotated set of steps. Every DependsOn
// entry names a step that appears earlier in Steps.
type Plan struct {
	CompositionID      string        `json:"compositionId"`
	Intent             string        `json:"intent"`
	Template           string        `json:"template,omitempty"`
	Steps              []Step        `json:"steps"`
	Complexity         Complexity    `json:"complexity"`
	SuccessProbability float64       `json:"successProbability"`
	CreatedAt          time.Time     `json:"createdAt"`
	Timeout            time.Duration `json:"timeout,omitempty"`

	// Version increases with every adaptation
	Version     int          `json:"version"`
	Adaptations []Adaptation `json:"adaptations,omitempty"`
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Clone returns a deep copy. Parameter values keep their Go types.
func (p *Plan) Clone() (*Plan, error) {
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	for i, step := range p.Steps {
		step.Parameters = cloneParameters(step.Parameters)
		step.DependsOn = slices.Clone(step.DependsOn)
		out.Steps[i] = step
	}
	out.Adaptations = make([]Adaptation, len(p.Adaptations))
	for i, a := range p.Adaptations {
		a.Substitutions = slices.Clone(a.Substitutions)
		a.Removed = slices.Clone(a.Removed)
		a.Patch = slices.Clone(a.Patch)
		out.Adaptations[i] = a
	}
	if p.Adaptations == nil {
		out.Adaptations = nil
	}
	return &out, nil
}

func cloneParameters(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		return cloneParameters(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Substitution records one tool replaced during adaptation.
type Substitution struct {
	StepID    string `json:"stepId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reasoning string `json:"reasoning"`
}

// Adaptation records one AdaptWorkflow call applied to a plan.
type Adaptation struct {
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Reason        string          `json:"reason,omitempty"`
	Substitutions []Substitution  `json:"substitutions,omitempty"`
	Removed       []string        `json:"removed,omitempty"`
	Patch         json.RawMessage `json:"patch"`
}

// StepStatus is the outcome of a step in an executed plan.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepAborted   StepStatus = "aborted"
)

// StepResult records one step's execution.
type StepResult struct {
	StepID      string            `json:"stepId"`
	ToolID      string            `json:"toolId"`
	Status      StepStatus        `json:"status"`
	Result      *tools.ToolResult `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"startedAt,omitempty"`
	CompletedAt time.Time         `json:"completedAt,omitempty"`
}

// Duration is how long the step ran; zero if it never started.
func (s StepResult) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// Result is the outcome of executing a plan.
type Result struct {
	CompositionID      string                 `json:"compositionId"`
	Success            bool                   `json:"success"`
	CompletedSteps     int                    `json:"completedSteps"`
	TotalSteps         int                    `json:"totalSteps"`
	Results            map[string]*StepResult `json:"results"`
	TotalExecutionTime time.Duration          `json:"totalExecutionTime"`

	// FailedStep is the required step that aborted the plan, if any
	FailedStep string `json:"failedStep,omitempty"`

	// TimedOut reports that the overall deadline expired
	TimedOut bool `json:"timedOut,omitempty"`
}

// StepsWith returns the ids of steps with the given status, in plan order.
func (r *Result) StepsWith(plan *Plan, status StepStatus) []string {
	var ids []string
	for _, s := range plan.Steps {
		if sr, ok := r.Results[s.StepID]; ok && sr.Status == status {
			ids = append(ids, s.StepID)
		}
	}
	return ids
}

// estimate fills Complexity and SuccessProbability from the steps.
func estimate(p *Plan) {
	switch n := len(p.Steps); {
	case n <= 2:
		p.Complexity = ComplexityLow
	case n <= 4:
		p.Complexity = ComplexityMedium
	default:
		p.Complexity = ComplexityHigh
	}

	prob := 1.0
	for _, s := range p.Steps {
		if s.Optional {
			continue
		}
		prob *= s.Confidence
	}
	if len(p.Steps) == 0 {
		prob = 0
	}
	p.SuccessProbability = prob
}
