package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Category groups tools by the kind of work they perform.
type Category string

const (
	CategoryCommunication Category = "communication"
	CategorySocial        Category = "social"
	CategoryResearch      Category = "research"
	CategoryProductivity  Category = "productivity"
	CategoryContent       Category = "content"
	CategoryData          Category = "data"
	CategoryUtility       Category = "utility"
)

// Capability is a tag describing what a tool can do (e.g. EMAIL_SEND).
// Capabilities drive discovery and intent matching.
type Capability string

const (
	CapabilityEmailSend       Capability = "EMAIL_SEND"
	CapabilityEmailRead       Capability = "EMAIL_READ"
	CapabilityWebSearch       Capability = "WEB_SEARCH"
	CapabilityTextPost        Capability = "TEXT_POST"
	CapabilitySummarize       Capability = "SUMMARIZE"
	CapabilityContentGenerate Capability = "CONTENT_GENERATE"
	CapabilityCalendar        Capability = "CALENDAR_MANAGE"
	CapabilityHTTPFetch       Capability = "HTTP_FETCH"
	CapabilityDataTransform   Capability = "DATA_TRANSFORM"
	CapabilityFileRead        Capability = "FILE_READ"
)

// Tool is the definition of a registered capability: its identity, its
// declared parameter contract and the executor that performs the work.
// A Tool is treated as immutable once registered; the registry stores
// and hands out clones.
type Tool struct {
	// ID is the unique opaque handle for the tool
	ID string `json:"id"`

	// Name is the unique, human-referenceable name (e.g. "send_email")
	Name string `json:"name"`

	// LogicalName groups interchangeable instances of the same tool.
	// It defaults to Name when empty.
	LogicalName string `json:"logicalName,omitempty"`

	// DisplayName is shown to humans
	DisplayName string `json:"displayName,omitempty"`

	// Description explains what the tool does
	Description string `json:"description"`

	// Category classifies the tool
	Category Category `json:"category"`

	// Capabilities lists the capability tags the tool provides
	Capabilities []Capability `json:"capabilities"`

	// Schema defines the parameters the tool accepts
	Schema *ToolSchema `json:"schema"`

	// Requires lists what the execution context must grant
	Requires *ToolRequirements `json:"requires,omitempty"`

	// Metadata contains version and provenance information
	Metadata *ToolMetadata `json:"metadata,omitempty"`

	// Executor implements the tool's work
	Executor ToolExecutor `json:"-"`

	// Timeout overrides the executor's default deadline when positive
	Timeout time.Duration `json:"timeout,omitempty"`

	// Disabled tools stay registered but are never resolved for execution
	Disabled bool `json:"disabled,omitempty"`

	// NonCacheable excludes the tool's results from the routing cache
	NonCacheable bool `json:"nonCacheable,omitempty"`
}

// ToolRequirements declares the permissions and capabilities an
// execution context must carry for the tool to run.
type ToolRequirements struct {
	Permissions  []string     `json:"permissions,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// ToolSchema represents a JSON Schema for tool parameters.
type ToolSchema struct {
	// Type is always "object" for tool parameters
	Type string `json:"type"`

	// Properties defines the individual parameters
	Properties map[string]*Property `json:"properties,omitempty"`

	// Required lists the mandatory parameter names
	Required []string `json:"required,omitempty"`

	// AdditionalProperties controls whether extra parameters are allowed
	AdditionalProperties *bool `json:"additionalProperties,omitempty"`

	// Description provides schema-level documentation
	Description string `json:"description,omitempty"`
}

// Property represents a single parameter in the tool schema.
type Property struct {
	// Type defines the JSON type (string, number, integer, boolean, array, object)
	Type string `json:"type"`

	// Description explains the parameter's purpose
	Description string `json:"description,omitempty"`

	// Format provides additional type constraints (e.g., "email", "uri", "date-time")
	Format string `json:"format,omitempty"`

	// Enum restricts the value to a set of allowed options
	Enum []interface{} `json:"enum,omitempty"`

	// Default provides a default value if the parameter is not supplied
	Default interface{} `json:"default,omitempty"`

	// Minimum/Maximum for numeric types
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// MinLength/MaxLength for string and array types
	MinLength *int `json:"minLength,omitempty"`
	MaxLength *int `json:"maxLength,omitempty"`

	// Pattern for regex validation of strings
	Pattern string `json:"pattern,omitempty"`

	// Items defines the schema for array elements
	Items *Property `json:"items,omitempty"`

	// Properties for nested objects
	Properties map[string]*Property `json:"properties,omitempty"`

	// Required properties for nested objects
	Required []string `json:"required,omitempty"`
}

// ToolMetadata contains provenance information about a tool.
type ToolMetadata struct {
	// Version follows semantic versioning (e.g., "1.0.0")
	Version string `json:"version,omitempty"`

	// Provider identifies the integration serving the tool (e.g. "gmail")
	Provider string `json:"provider,omitempty"`

	// Author identifies who created the tool
	Author string `json:"author,omitempty"`

	// Tags for categorization and discovery
	Tags []string `json:"tags,omitempty"`

	// ExpectedLatency is a hint used for scoring before samples exist
	ExpectedLatency time.Duration `json:"expectedLatency,omitempty"`

	// Custom metadata fields
	Custom map[string]interface{} `json:"custom,omitempty"`
}

// ToolExecutor is implemented by every concrete tool adapter. The registry
// stores this interface value; only the Executor invokes it.
type ToolExecutor interface {
	// Invoke runs the tool. The context carries the deadline and
	// cancellation; execCtx carries the caller's identity and grants.
	Invoke(ctx context.Context, params map[string]interface{}, execCtx *ExecutionContext) (*ToolResult, error)
}

// ExecutorFunc adapts an ordinary function to the ToolExecutor interface.
type ExecutorFunc func(ctx context.Context, params map[string]interface{}, execCtx *ExecutionContext) (*ToolResult, error)

// Invoke calls f.
func (f ExecutorFunc) Invoke(ctx context.Context, params map[string]interface{}, execCtx *ExecutionContext) (*ToolResult, error) {
	return f(ctx, params, execCtx)
}

// ToolResult represents the outcome of a single tool execution.
type ToolResult struct {
	// Success indicates if the execution completed successfully
	Success bool `json:"success"`

	// Data contains the tool's output
	Data interface{} `json:"data,omitempty"`

	// Error describes the failure, if any
	Error *ResultError `json:"error,omitempty"`

	// Duration is how long the execution took
	Duration time.Duration `json:"duration"`

	// StartedAt is when the executor was invoked
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the execution finished
	CompletedAt time.Time `json:"completedAt"`

	// Metadata contains execution information keyed by the Metadata*
	// constants
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Keys the executor stamps into ToolResult.Metadata. They follow the
// camelCase of the result's JSON fields.
const (
	MetadataToolID      = "toolId"
	MetadataExecutionID = "executionId"
	MetadataContextID   = "contextId"
)

// ResultError is the structured error carried inside a ToolResult.
type ResultError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// DurationMs returns the execution duration in milliseconds.
func (r *ToolResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// ToolID returns the id of the tool that produced the result.
func (r *ToolResult) ToolID() string {
	if r == nil || r.Metadata == nil {
		return ""
	}
	id, _ := r.Metadata[MetadataToolID].(string)
	return id
}

// Clone returns a copy that does not share the metadata map.
func (r *ToolResult) Clone() *ToolResult {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Metadata = cloneMap(r.Metadata)
	if r.Error != nil {
		e := *r.Error
		e.Details = cloneMap(r.Error.Details)
		clone.Error = &e
	}
	return &clone
}

// ToolFilter is used to query tools in the registry.
type ToolFilter struct {
	// Name filters by tool name (supports * wildcards)
	Name string

	// Category filters by tool category
	Category Category

	// Capabilities matches tools declaring any of the listed capabilities
	Capabilities []Capability

	// Tags filters by metadata tags (tools must have all specified tags)
	Tags []string

	// Version filters by version constraint (e.g., ">=1.0.0")
	Version string

	// Keywords searches in name and description
	Keywords []string

	// IncludeDisabled also returns disabled tools
	IncludeDisabled bool
}

// Logical returns the logical tool name shared by interchangeable instances.
func (t *Tool) Logical() string {
	if t.LogicalName != "" {
		return t.LogicalName
	}
	return t.Name
}

// Enabled reports whether the tool can be resolved for execution.
func (t *Tool) Enabled() bool {
	return !t.Disabled
}

// HasCapability reports whether the tool declares c.
func (t *Tool) HasCapability(c Capability) bool {
	for _, have := range t.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Version returns the metadata version or an empty string.
func (t *Tool) Version() string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata.Version
}

// Validate checks if the tool schema is well formed.
func (s *ToolSchema) Validate() error {
	if s.Type != "object" {
		return fmt.Errorf("schema type must be 'object', got %q", s.Type)
	}

	for name, prop := range s.Properties {
		if prop == nil {
			return fmt.Errorf("property %q: definition is nil", name)
		}
		if err := prop.Validate(); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}

	for _, req := range s.Required {
		if _, ok := s.Properties[req]; !ok {
			return fmt.Errorf("required property %q not defined in schema", req)
		}
	}

	return nil
}

// Validate checks if the property definition is valid.
func (p *Property) Validate() error {
	validTypes := map[string]bool{
		"string":  true,
		"number":  true,
		"integer": true,
		"boolean": true,
		"array":   true,
		"object":  true,
		"null":    true,
	}

	if !validTypes[p.Type] {
		return fmt.Errorf("invalid type %q", p.Type)
	}

	if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
		return fmt.Errorf("minimum %v exceeds maximum %v", *p.Minimum, *p.Maximum)
	}

	if p.Type == "array" && p.Items != nil {
		if err := p.Items.Validate(); err != nil {
			return fmt.Errorf("array items: %w", err)
		}
	}

	if p.Type == "object" && p.Properties != nil {
		for name, prop := range p.Properties {
			if err := prop.Validate(); err != nil {
				return fmt.Errorf("nested property %q: %w", name, err)
			}
		}
	}

	return nil
}

// MarshalJSON customizes JSON marshaling for Tool.
func (t *Tool) MarshalJSON() ([]byte, error) {
	type Alias Tool
	return json.Marshal(&struct {
		*Alias
		Executor string `json:"executor,omitempty"`
	}{
		Alias:    (*Alias)(t),
		Executor: fmt.Sprintf("%T", t.Executor),
	})
}

// Clone creates a deep copy of the tool. The executor is shared.
func (t *Tool) Clone() *Tool {
	clone := *t
	clone.Capabilities = slices.Clone(t.Capabilities)
	if t.Schema != nil {
		clone.Schema = t.Schema.Clone()
	}
	if t.Requires != nil {
		clone.Requires = &ToolRequirements{
			Permissions:  slices.Clone(t.Requires.Permissions),
			Capabilities: slices.Clone(t.Requires.Capabilities),
		}
	}
	if t.Metadata != nil {
		clone.Metadata = t.Metadata.Clone()
	}
	return &clone
}

// Clone creates a deep copy of the schema.
func (s *ToolSchema) Clone() *ToolSchema {
	clone := *s
	clone.Properties = cloneProperties(s.Properties)
	clone.Required = slices.Clone(s.Required)
	clone.AdditionalProperties = clonePtr(s.AdditionalProperties)
	return &clone
}

// Clone creates a deep copy of the property. Default and Enum values are
// shared.
func (p *Property) Clone() *Property {
	clone := *p
	clone.Enum = slices.Clone(p.Enum)
	clone.Minimum = clonePtr(p.Minimum)
	clone.Maximum = clonePtr(p.Maximum)
	clone.MinLength = clonePtr(p.MinLength)
	clone.MaxLength = clonePtr(p.MaxLength)
	if p.Items != nil {
		clone.Items = p.Items.Clone()
	}
	clone.Properties = cloneProperties(p.Properties)
	clone.Required = slices.Clone(p.Required)
	return &clone
}

func cloneProperties(props map[string]*Property) map[string]*Property {
	if props == nil {
		return nil
	}
	out := make(map[string]*Property, len(props))
	for k, v := range props {
		out[k] = v.Clone()
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone creates a deep copy of the metadata.
func (m *ToolMetadata) Clone() *ToolMetadata {
	clone := *m
	clone.Tags = slices.Clone(m.Tags)
	clone.Custom = cloneMap(m.Custom)
	return &clone
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	return maps.Clone(m)
}
