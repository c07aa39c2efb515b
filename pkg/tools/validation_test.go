package tools_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/internal/testutil"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
func boolPtr(b bool) *bool        { return &b }

func TestValidationService_ValidateDefinition(t *testing.T) {
	svc := tools.NewValidationService()

	t.Run("valid with warnings", func(t *testing.T) {
		tool := createTestTool("t1", "tool_one")
		tool.Description = ""
		tool.Metadata.Version = "latest"

		res := svc.ValidateDefinition(tool)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)

		paths := make([]string, 0, len(res.Warnings))
		for _, w := range res.Warnings {
			paths = append(paths, w.Path)
		}
		assert.Contains(t, paths, "description")
		assert.Contains(t, paths, "metadata.version")
	})

	t.Run("collects every error", func(t *testing.T) {
		tool := &tools.Tool{Name: "9bad name"}
		res := svc.ValidateDefinition(tool)
		assert.False(t, res.Valid)

		paths := make(map[string]bool)
		for _, e := range res.Errors {
			paths[e.Path] = true
		}
		for _, want := range []string{"id", "name", "executor", "capabilities", "schema"} {
			assert.True(t, paths[want], "expected error at %s", want)
		}
	})

	t.Run("negative timeout", func(t *testing.T) {
		tool := createTestTool("t2", "tool_two")
		tool.Timeout = -1
		res := svc.ValidateDefinition(tool)
		assert.False(t, res.Valid)
	})

	t.Run("duplicate capability warns", func(t *testing.T) {
		tool := createTestTool("t3", "tool_three", tools.CapabilityWebSearch, tools.CapabilityWebSearch)
		res := svc.ValidateDefinition(tool)
		assert.True(t, res.Valid)
		assert.NotEmpty(t, res.Warnings)
	})
}

func TestValidationService_ValidateCall(t *testing.T) {
	email := testutil.NewEmailTool("gmail.send", testutil.NewCountingExecutor(nil))
	email.Requires = &tools.ToolRequirements{
		Permissions:  []string{"email:send"},
		Capabilities: []tools.Capability{tools.CapabilityEmailSend},
	}

	granted := testutil.Context(
		tools.WithPermissions("email:send"),
		tools.WithCapabilities(tools.CapabilityEmailSend),
	)

	tests := []struct {
		name      string
		params    map[string]interface{}
		ctx       *tools.ExecutionContext
		strict    bool
		wantValid bool
		wantPaths []string
		warnings  int
	}{
		{
			name:      "valid call",
			params:    map[string]interface{}{"to": "a@b.com", "subject": "Hi"},
			ctx:       granted,
			wantValid: true,
		},
		{
			name:      "missing required and bad format",
			params:    map[string]interface{}{"subject": 42},
			ctx:       granted,
			wantPaths: []string{"to", "subject"},
		},
		{
			name:      "invalid email",
			params:    map[string]interface{}{"to": "not-an-email"},
			ctx:       granted,
			wantPaths: []string{"to"},
		},
		{
			name:      "missing grants",
			params:    map[string]interface{}{"to": "a@b.com"},
			ctx:       testutil.Context(),
			wantPaths: []string{"context.permissions", "context.capabilities"},
		},
		{
			name:      "nil context",
			params:    map[string]interface{}{"to": "a@b.com"},
			ctx:       nil,
			wantPaths: []string{"context"},
		},
		{
			name:      "unknown parameter warns",
			params:    map[string]interface{}{"to": "a@b.com", "cc": "x"},
			ctx:       granted,
			wantValid: true,
			warnings:  1,
		},
		{
			name:      "unknown parameter fails when strict",
			params:    map[string]interface{}{"to": "a@b.com", "cc": "x"},
			ctx:       granted,
			strict:    true,
			wantPaths: []string{"cc"},
		},
		{
			name:      "wildcard permission",
			params:    map[string]interface{}{"to": "a@b.com"},
			ctx:       testutil.Context(tools.WithPermissions("*"), tools.WithCapabilities(tools.CapabilityEmailSend)),
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &tools.ValidationService{StrictParameters: tt.strict}
			res := svc.ValidateCall(email, tt.params, tt.ctx)
			assert.Equal(t, tt.wantValid, res.Valid)

			got := make(map[string]bool)
			for _, e := range res.Errors {
				got[e.Path] = true
			}
			for _, p := range tt.wantPaths {
				assert.True(t, got[p], "expected error at %q, got %v", p, res.Errors)
			}
			assert.Len(t, res.Warnings, tt.warnings)
		})
	}
}

func TestSchemaValidator(t *testing.T) {
	schema := &tools.ToolSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"name":  {Type: "string", MinLength: intPtr(2), MaxLength: intPtr(10), Pattern: "^[a-z]+$"},
			"level": {Type: "string", Enum: []interface{}{"low", "high"}},
			"count": {Type: "integer", Minimum: floatPtr(1), Maximum: floatPtr(5)},
			"ratio": {Type: "number", Minimum: floatPtr(0), Maximum: floatPtr(1)},
			"flag":  {Type: "boolean"},
			"tags":  {Type: "array", Items: &tools.Property{Type: "string"}, MaxLength: intPtr(2)},
			"when":  {Type: "string", Format: "date-time"},
			"id":    {Type: "string", Format: "uuid"},
			"site":  {Type: "string", Format: "uri"},
			"nested": {
				Type:       "object",
				Properties: map[string]*tools.Property{"key": {Type: "string"}},
				Required:   []string{"key"},
			},
		},
		Required:             []string{"name"},
		AdditionalProperties: boolPtr(false),
	}

	tests := []struct {
		name    string
		params  map[string]interface{}
		wantErr string
	}{
		{"valid", map[string]interface{}{
			"name": "abc", "level": "low", "count": 3, "ratio": 0.5, "flag": true,
			"tags": []string{"a"}, "when": "2024-01-02T15:04:05Z",
			"id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8", "site": "https://example.com",
			"nested": map[string]interface{}{"key": "v"},
		}, ""},
		{"missing required", map[string]interface{}{}, "name"},
		{"too short", map[string]interface{}{"name": "a"}, "less than minimum"},
		{"pattern", map[string]interface{}{"name": "ABC"}, "does not match pattern"},
		{"enum", map[string]interface{}{"name": "abc", "level": "mid"}, "not in enum"},
		{"integer range", map[string]interface{}{"name": "abc", "count": 9}, "greater than maximum"},
		{"integer float", map[string]interface{}{"name": "abc", "count": 1.5}, "expected integer"},
		{"number type", map[string]interface{}{"name": "abc", "ratio": "half"}, "expected number"},
		{"boolean type", map[string]interface{}{"name": "abc", "flag": "yes"}, "expected boolean"},
		{"array items", map[string]interface{}{"name": "abc", "tags": []interface{}{1}}, "tags[0]"},
		{"array length", map[string]interface{}{"name": "abc", "tags": []string{"a", "b", "c"}}, "array length"},
		{"date-time", map[string]interface{}{"name": "abc", "when": "yesterday"}, "date-time"},
		{"uuid", map[string]interface{}{"name": "abc", "id": "nope"}, "UUID"},
		{"uri", map[string]interface{}{"name": "abc", "site": "ftp://x"}, "URL"},
		{"nested required", map[string]interface{}{"name": "abc", "nested": map[string]interface{}{}}, "nested.key"},
		{"additional", map[string]interface{}{"name": "abc", "extra": 1}, "additional property"},
		{"null", map[string]interface{}{"name": nil}, "cannot be null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tools.NewSchemaValidator(schema).Validate(tt.params)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSchemaValidator_ValidateAllCollects(t *testing.T) {
	schema := &tools.ToolSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"a": {Type: "string"},
			"b": {Type: "integer"},
		},
		Required: []string{"a", "b"},
	}
	issues := tools.NewSchemaValidator(schema).ValidateAll(map[string]interface{}{})
	assert.Len(t, issues, 2)
}

func TestApplyDefaults(t *testing.T) {
	schema := &tools.ToolSchema{
		Type: "object",
		Properties: map[string]*tools.Property{
			"mode":  {Type: "string", Default: "fast"},
			"limit": {Type: "integer", Default: 10},
		},
	}
	in := map[string]interface{}{"mode": "slow"}
	out := tools.ApplyDefaults(schema, in)

	assert.Equal(t, "slow", out["mode"])
	assert.Equal(t, 10, out["limit"])
	assert.NotContains(t, in, "limit", "input must not be mutated")
}
