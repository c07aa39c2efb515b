package composition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// placeholder matches {{params.name[.path]}} and {{steps.id.data[.path]}}.
var placeholder = regexp.MustCompile(`\{\{\s*(params|steps)\.([A-Za-z0-9_\-]+)((?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

type reference struct {
	scope string
	name  string
	path  []string
}

func parseRef(m []string) reference {
	ref := reference{scope: m[1], name: m[2]}
	if m[3] != "" {
		ref.path = strings.Split(strings.TrimPrefix(m[3], "."), ".")
	}
	return ref
}

// lookupFunc resolves a reference; ok=false leaves it unresolved.
type lookupFunc func(reference) (value interface{}, ok bool)

// bind substitutes placeholders of one scope in v. A string that is a
// single placeholder is replaced by the raw value, so structured data
// flows between steps unchanged; placeholders embedded in text are
// formatted. Keys whose whole value is unresolvable are dropped.
func bind(v interface{}, scope string, lookup lookupFunc) (interface{}, bool) {
	switch val := v.(type) {
	case string:
		return bindString(val, scope, lookup)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if bound, ok := bind(item, scope, lookup); ok {
				out[k] = bound
			}
		}
		return out, true
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			if bound, ok := bind(item, scope, lookup); ok {
				out = append(out, bound)
			}
		}
		return out, true
	}
	return v, true
}

func bindString(s, scope string, lookup lookupFunc) (interface{}, bool) {
	if m := placeholder.FindStringSubmatch(s); m != nil && m[0] == strings.TrimSpace(s) {
		ref := parseRef(m)
		if ref.scope != scope {
			return s, true
		}
		return lookup(ref)
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		ref := parseRef(placeholder.FindStringSubmatch(match))
		if ref.scope != scope {
			return match
		}
		value, ok := lookup(ref)
		if !ok || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	}), true
}

// bindParams resolves {{params...}} against the compose-time parameters.
func bindParams(params map[string]interface{}, input map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	bound, _ := bind(params, "params", func(ref reference) (interface{}, bool) {
		v, ok := input[ref.name]
		if !ok {
			return nil, false
		}
		return walk(v, ref.path)
	})
	return bound.(map[string]interface{})
}

// bindSteps resolves {{steps...}} against the results of finished steps.
func bindSteps(params map[string]interface{}, results map[string]*tools.ToolResult) map[string]interface{} {
	if params == nil {
		return nil
	}
	bound, _ := bind(params, "steps", func(ref reference) (interface{}, bool) {
		res, ok := results[ref.name]
		if !ok || res == nil {
			return nil, false
		}
		if len(ref.path) == 0 {
			return res.Data, true
		}
		switch ref.path[0] {
		case "data":
			return walk(res.Data, ref.path[1:])
		case "success":
			return res.Success, true
		}
		return nil, false
	})
	return bound.(map[string]interface{})
}

// stepRefs lists the step ids referenced by {{steps...}} placeholders.
func stepRefs(v interface{}) []string {
	var refs []string
	var visit func(interface{})
	visit = func(v interface{}) {
		switch val := v.(type) {
		case string:
			for _, m := range placeholder.FindAllStringSubmatch(val, -1) {
				if m[1] == "steps" {
					refs = append(refs, m[2])
				}
			}
		case map[string]interface{}:
			for _, item := range val {
				visit(item)
			}
		case []interface{}:
			for _, item := range val {
				visit(item)
			}
		}
	}
	visit(v)
	return uniqueStrings(refs)
}

// walk follows a dotted path through maps and slices.
func walk(v interface{}, path []string) (interface{}, bool) {
	for _, key := range path {
		switch node := v.(type) {
		case map[string]interface{}:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			v = next
		case []interface{}:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			v = node[i]
		default:
			return nil, false
		}
	}
	return v, true
}
