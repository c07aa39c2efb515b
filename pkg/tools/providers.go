package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProviderFormat names a model provider's function-calling dialect.
type ProviderFormat string

const (
	FormatNative    ProviderFormat = "native"
	FormatOpenAI    ProviderFormat = "openai"
	FormatAnthropic ProviderFormat = "anthropic"
)

// ParseProviderFormat accepts a format name case-insensitively. The empty
// string is the native format.
func ParseProviderFormat(s string) (ProviderFormat, error) {
	switch f := ProviderFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatNative:
		return FormatNative, nil
	case FormatOpenAI, FormatAnthropic:
		return f, nil
	default:
		return "", NewToolError(ErrorTypeValidation, "UNKNOWN_FORMAT",
			fmt.Sprintf("unknown provider format %q", s)).
			WithDetail("supported", []string{string(FormatNative), string(FormatOpenAI), string(FormatAnthropic)})
	}
}

// OpenAITool represents a tool in OpenAI's function calling format.
type OpenAITool struct {
	Type     string             `json:"type"`
	Function OpenAIToolFunction `json:"function"`
}

// OpenAIToolFunction represents the function definition in OpenAI format.
type OpenAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// OpenAIToolCall represents a tool call in OpenAI format.
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the called name and its JSON-encoded arguments.
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAIToolMessage represents a tool response message in OpenAI format.
type OpenAIToolMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id"`
}

// AnthropicTool represents a tool in Anthropic's format.
type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// AnthropicToolUse represents a tool use request in Anthropic format.
type AnthropicToolUse struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// AnthropicToolResult represents a tool result in Anthropic format.
type AnthropicToolResult struct {
	ToolUseID string      `json:"tool_use_id"`
	Content   interface{} `json:"content"`
	IsError   bool        `json:"is_error,omitempty"`
}

// ExportTools renders the enabled tools in the given format. Native
// returns the tool definitions themselves.
func ExportTools(tools []*Tool, format ProviderFormat) (interface{}, error) {
	enabled := make([]*Tool, 0, len(tools))
	for _, t := range tools {
		if t != nil && t.Enabled() {
			enabled = append(enabled, t)
		}
	}

	switch format {
	case "", FormatNative:
		return enabled, nil
	case FormatOpenAI:
		out := make([]*OpenAITool, 0, len(enabled))
		for _, t := range enabled {
			out = append(out, ToOpenAITool(t))
		}
		return out, nil
	case FormatAnthropic:
		out := make([]*AnthropicTool, 0, len(enabled))
		for _, t := range enabled {
			out = append(out, ToAnthropicTool(t))
		}
		return out, nil
	default:
		_, err := ParseProviderFormat(string(format))
		return nil, err
	}
}

// ToOpenAITool converts a tool to OpenAI's function format.
func ToOpenAITool(tool *Tool) *OpenAITool {
	return &OpenAITool{
		Type: "function",
		Function: OpenAIToolFunction{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToJSONSchema(tool.Schema),
		},
	}
}

// ToAnthropicTool converts a tool to Anthropic's format.
func ToAnthropicTool(tool *Tool) *AnthropicTool {
	return &AnthropicTool{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schemaToJSONSchema(tool.Schema),
	}
}

// ParseOpenAIToolCall returns the tool name and decoded arguments of an
// OpenAI tool call. Empty arguments decode to an empty map.
func ParseOpenAIToolCall(call *OpenAIToolCall) (string, map[string]interface{}, error) {
	if call == nil || call.Function.Name == "" {
		return "", nil, NewToolError(ErrorTypeValidation, "INVALID_TOOL_CALL", "tool call has no function name")
	}
	args := map[string]interface{}{}
	if strings.TrimSpace(call.Function.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "", nil, NewToolError(ErrorTypeValidation, "INVALID_TOOL_CALL",
				"tool call arguments are not a JSON object").
				WithToolID(call.Function.Name).
				WithCause(err)
		}
	}
	return call.Function.Name, args, nil
}

// ParseAnthropicToolUse returns the tool name and input of an Anthropic
// tool use block.
func ParseAnthropicToolUse(use *AnthropicToolUse) (string, map[string]interface{}, error) {
	if use == nil || use.Name == "" {
		return "", nil, NewToolError(ErrorTypeValidation, "INVALID_TOOL_CALL", "tool use has no name")
	}
	input := use.Input
	if input == nil {
		input = map[string]interface{}{}
	}
	return use.Name, input, nil
}

// ResultToOpenAI converts a result to an OpenAI tool message. Failures
// carry the error message as content.
func ResultToOpenAI(result *ToolResult, toolCallID string) (*OpenAIToolMessage, error) {
	if result == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}

	var content string
	if result.Success {
		data, err := json.Marshal(result.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result data: %w", err)
		}
		content = string(data)
	} else {
		content = resultMessage(result)
	}

	return &OpenAIToolMessage{
		Role:       "tool",
		Content:    content,
		ToolCallID: toolCallID,
	}, nil
}

// ResultToAnthropic converts a result to an Anthropic tool_result block.
func ResultToAnthropic(result *ToolResult, toolUseID string) (*AnthropicToolResult, error) {
	if result == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}
	if !result.Success {
		return &AnthropicToolResult{ToolUseID: toolUseID, Content: resultMessage(result), IsError: true}, nil
	}
	return &AnthropicToolResult{ToolUseID: toolUseID, Content: result.Data}, nil
}

func resultMessage(result *ToolResult) string {
	if result.Error == nil {
		return "tool execution failed"
	}
	if result.Error.Code == "" {
		return result.Error.Message
	}
	return result.Error.Code + ": " + result.Error.Message
}

// schemaToJSONSchema renders a parameter schema as a plain JSON Schema
// object. Both providers accept the same shape.
func schemaToJSONSchema(schema *ToolSchema) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	typ := schema.Type
	if typ == "" {
		typ = "object"
	}
	params := map[string]interface{}{"type": typ}

	// properties is always present; some providers reject its absence
	properties := make(map[string]interface{}, len(schema.Properties))
	for name, prop := range schema.Properties {
		properties[name] = propertyToJSONSchema(prop)
	}
	params["properties"] = properties

	if len(schema.Required) > 0 {
		params["required"] = schema.Required
	}
	if schema.AdditionalProperties != nil {
		params["additionalProperties"] = *schema.AdditionalProperties
	}
	if schema.Description != "" {
		params["description"] = schema.Description
	}
	return params
}

func propertyToJSONSchema(prop *Property) map[string]interface{} {
	if prop == nil {
		return map[string]interface{}{}
	}

	result := map[string]interface{}{"type": prop.Type}
	if prop.Description != "" {
		result["description"] = prop.Description
	}
	if prop.Format != "" {
		result["format"] = prop.Format
	}
	if len(prop.Enum) > 0 {
		result["enum"] = prop.Enum
	}
	if prop.Default != nil {
		result["default"] = prop.Default
	}

	switch prop.Type {
	case "string":
		if prop.MinLength != nil {
			result["minLength"] = *prop.MinLength
		}
		if prop.MaxLength != nil {
			result["maxLength"] = *prop.MaxLength
		}
		if prop.Pattern != "" {
			result["pattern"] = prop.Pattern
		}
	case "number", "integer":
		if prop.Minimum != nil {
			result["minimum"] = *prop.Minimum
		}
		if prop.Maximum != nil {
			result["maximum"] = *prop.Maximum
		}
	case "array":
		if prop.Items != nil {
			result["items"] = propertyToJSONSchema(prop.Items)
		}
		if prop.MinLength != nil {
			result["minItems"] = *prop.MinLength
		}
		if prop.MaxLength != nil {
			result["maxItems"] = *prop.MaxLength
		}
	case "object":
		if len(prop.Properties) > 0 {
			properties := make(map[string]interface{}, len(prop.Properties))
			for name, sub := range prop.Properties {
				properties[name] = propertyToJSONSchema(sub)
			}
			result["properties"] = properties
		}
		if len(prop.Required) > 0 {
			result["required"] = prop.Required
		}
	}
	return result
}
