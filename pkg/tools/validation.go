package tools

import (
	"fmt"
	"regexp"
	"sort"
)

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-]*$`)

// ValidationResult is the structured outcome of a validation pass.
// Validation failures are reported here, never returned as errors;
// callers decide whether they are fatal.
type ValidationResult struct {
	Valid    bool               `json:"valid"`
	Errors   []*ValidationError `json:"errors,omitempty"`
	Warnings []*ValidationError `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(path, format string, args ...interface{}) {
	r.Errors = append(r.Errors, &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(path, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) finish() ValidationResult {
	r.Valid = len(r.Errors) == 0
	return *r
}

// ValidationService validates tool definitions at registration time and
// (parameters, execution context) pairs at call time.
type ValidationService struct {
	// StrictParameters turns unknown-parameter warnings into errors.
	StrictParameters bool
}

// NewValidationService creates a validation service with lenient defaults.
func NewValidationService() *ValidationService {
	return &ValidationService{}
}

// ValidateDefinition checks a tool definition before registration.
func (s *ValidationService) ValidateDefinition(tool *Tool) ValidationResult {
	var res ValidationResult
	if tool == nil {
		res.addError("", "tool cannot be nil")
		return res.finish()
	}

	if tool.ID == "" {
		res.addError("id", "tool ID is required")
	}
	if tool.Name == "" {
		res.addError("name", "tool name is required")
	} else if !toolNamePattern.MatchString(tool.Name) {
		res.addError("name", "tool name %q contains invalid characters", tool.Name)
	}
	if tool.Executor == nil {
		res.addError("executor", "tool executor is required")
	}
	if len(tool.Capabilities) == 0 {
		res.addError("capabilities", "at least one capability is required")
	}
	seen := make(map[Capability]bool, len(tool.Capabilities))
	for _, c := range tool.Capabilities {
		if c == "" {
			res.addError("capabilities", "capability tags cannot be empty")
		}
		if seen[c] {
			res.addWarning("capabilities", "capability %q declared more than once", c)
		}
		seen[c] = true
	}
	if tool.Schema == nil {
		res.addError("schema", "tool schema is required")
	} else if err := tool.Schema.Validate(); err != nil {
		res.addError("schema", "invalid schema: %v", err)
	}
	if tool.Timeout < 0 {
		res.addError("timeout", "timeout cannot be negative")
	}

	if tool.Description == "" {
		res.addWarning("description", "tool has no description; free-text discovery will be weaker")
	}
	if tool.Category == "" {
		res.addWarning("category", "tool has no category")
	}
	if tool.Version() == "" {
		res.addWarning("metadata.version", "tool has no version")
	} else if _, err := parseSemverVersion(tool.Version()); err != nil {
		res.addWarning("metadata.version", "version %q is not semantic: %v", tool.Version(), err)
	}

	return res.finish()
}

// ValidateCall checks call-time parameters against the tool's schema and
// the execution context against the tool's declared requirements.
func (s *ValidationService) ValidateCall(tool *Tool, params map[string]interface{}, execCtx *ExecutionContext) ValidationResult {
	var res ValidationResult
	if tool == nil {
		res.addError("", "tool cannot be nil")
		return res.finish()
	}

	if tool.Schema != nil {
		for _, issue := range NewSchemaValidator(tool.Schema).ValidateAll(params) {
			res.Errors = append(res.Errors, issue)
		}

		if tool.Schema.AdditionalProperties == nil {
			unknown := make([]string, 0)
			for key := range params {
				if _, ok := tool.Schema.Properties[key]; !ok {
					unknown = append(unknown, key)
				}
			}
			sort.Strings(unknown)
			for _, key := range unknown {
				if s.StrictParameters {
					res.addError(key, "parameter is not declared by the tool")
				} else {
					res.addWarning(key, "parameter is not declared by the tool")
				}
			}
		}
	}

	if execCtx == nil {
		res.addError("context", "execution context is required")
		return res.finish()
	}
	if tool.Requires != nil {
		for _, perm := range tool.Requires.Permissions {
			if !execCtx.HasPermission(perm) {
				res.addError("context.permissions", "missing permission %q", perm)
			}
		}
		for _, c := range tool.Requires.Capabilities {
			if !execCtx.HasCapability(c) {
				res.addError("context.capabilities", "missing capability %q", c)
			}
		}
	}

	return res.finish()
}
