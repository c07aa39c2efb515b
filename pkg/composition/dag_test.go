package composition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

func s(id string, deps ...string) Step {
	return Step{StepID: id, ToolID: "tool." + id, DependsOn: deps, Confidence: 0.9}
}

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		code  string
	}{
		{name: "valid chain", steps: []Step{s("a"), s("b", "a"), s("c", "a", "b")}},
		{name: "valid diamond", steps: []Step{s("a"), s("b", "a"), s("c", "a"), s("d", "b", "c")}},
		{name: "empty", code: "EMPTY_PLAN"},
		{name: "missing id", steps: []Step{{ToolID: "x"}}, code: "INVALID_STEP"},
		{name: "missing tool", steps: []Step{{StepID: "a"}}, code: "INVALID_STEP"},
		{name: "duplicate", steps: []Step{s("a"), s("a")}, code: "DUPLICATE_STEP"},
		{name: "unknown dependency", steps: []Step{s("a", "z")}, code: "UNKNOWN_DEPENDENCY"},
		{name: "self dependency", steps: []Step{s("a", "a")}, code: "CYCLE_DETECTED"},
		{name: "cycle", steps: []Step{s("a", "c"), s("b", "a"), s("c", "b")}, code: "CYCLE_DETECTED"},
		{name: "forward reference", steps: []Step{s("b", "a"), s("a")}, code: "FORWARD_REFERENCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlan(&Plan{Steps: tt.steps})
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tools.ErrComposition))
			var te *tools.ToolError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.code, te.Code)
		})
	}

	assert.Error(t, ValidatePlan(nil))
}

func TestTopoSort_KeepsOrderWherePossible(t *testing.T) {
	ordered, err := topoSort([]Step{s("post", "search"), s("search"), s("notify"), s("archive", "post")})
	require.NoError(t, err)

	ids := make([]string, len(ordered))
	for i, step := range ordered {
		ids[i] = step.StepID
	}
	assert.Equal(t, []string{"search", "post", "notify", "archive"}, ids)
}

func TestTopoSort_ReportsCycleMembers(t *testing.T) {
	_, err := topoSort([]Step{s("root"), s("a", "root", "b"), s("b", "a")})
	var te *tools.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "CYCLE_DETECTED", te.Code)
	assert.Equal(t, []string{"a", "b"}, te.Details["steps"])
}

func TestEstimate(t *testing.T) {
	p := &Plan{Steps: []Step{s("a"), s("b"), s("c")}}
	p.Steps[2].Optional = true
	estimate(p)
	assert.Equal(t, ComplexityMedium, p.Complexity)
	assert.InDelta(t, 0.81, p.SuccessProbability, 1e-9)

	p = &Plan{Steps: []Step{s("a"), s("b"), s("c"), s("d"), s("e")}}
	estimate(p)
	assert.Equal(t, ComplexityHigh, p.Complexity)

	empty := &Plan{}
	estimate(empty)
	assert.Equal(t, ComplexityLow, empty.Complexity)
	assert.Zero(t, empty.SuccessProbability)
}
