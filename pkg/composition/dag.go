package composition

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// ValidatePlan checks that step ids are unique and non-empty, that every
// step names a tool, and that dependencies reference known, earlier steps
// without cycles.
func ValidatePlan(p *Plan) error {
	if p == nil || len(p.Steps) == 0 {
		return tools.NewCompositionError("EMPTY_PLAN", "plan has no steps")
	}

	position := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if s.StepID == "" {
			return tools.NewCompositionError("INVALID_STEP", fmt.Sprintf("step %d has no id", i))
		}
		if _, dup := position[s.StepID]; dup {
			return tools.NewCompositionError("DUPLICATE_STEP", fmt.Sprintf("step id %q is used twice", s.StepID))
		}
		if s.ToolID == "" {
			return tools.NewCompositionError("INVALID_STEP", fmt.Sprintf("step %q has no tool", s.StepID))
		}
		position[s.StepID] = i
	}

	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := position[dep]; !ok {
				return tools.NewCompositionError("UNKNOWN_DEPENDENCY",
					fmt.Sprintf("step %q depends on unknown step %q", s.StepID, dep))
			}
		}
	}

	if _, err := topoSort(p.Steps); err != nil {
		return err
	}

	for i, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if position[dep] >= i {
				return tools.NewCompositionError("FORWARD_REFERENCE",
					fmt.Sprintf("step %q depends on later step %q", s.StepID, dep))
			}
		}
	}
	return nil
}

// topoSort orders steps so that every step follows its dependencies,
// keeping the original relative order where the graph allows it (Kahn's
// algorithm with an index-ordered ready set). A cycle is reported with
// the steps that could not be ordered.
func topoSort(steps []Step) ([]Step, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.StepID] = i
	}

	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, s := range steps {
		for _, dep := range uniqueStrings(s.DependsOn) {
			j, ok := index[dep]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Step, 0, len(steps))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, steps[i])
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(ordered) != len(steps) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, steps[i].StepID)
			}
		}
		return nil, tools.NewCompositionError("CYCLE_DETECTED",
			fmt.Sprintf("dependency cycle among steps %s", strings.Join(stuck, ", "))).
			WithDetail("steps", stuck)
	}
	return ordered, nil
}

func uniqueStrings(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
