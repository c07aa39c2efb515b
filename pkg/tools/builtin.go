package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseSize bounds how much of an HTTP body http_get reads.
const maxResponseSize = 10 * 1024 * 1024

// BuiltinToolsOptions configures how built-in tools are registered.
type BuiltinToolsOptions struct {
	// HTTPOptions guards http_get; nil uses DefaultSecureHTTPOptions
	HTTPOptions *SecureHTTPOptions

	// HTTPClient performs http_get requests; nil uses a client without
	// its own timeout so the execution deadline governs
	HTTPClient *http.Client

	// FileOptions enables file_read under its path policy; nil leaves
	// file_read unregistered
	FileOptions *SecureFileOptions
}

// RegisterBuiltinTools registers the utility tools (http_get, json_parse,
// base64_encode, base64_decode, and file_read when FileOptions is set)
// with registry.
func RegisterBuiltinTools(registry *Registry, options *BuiltinToolsOptions) error {
	if options == nil {
		options = &BuiltinToolsOptions{}
	}

	list := []*Tool{
		NewHTTPGetTool(options.HTTPClient, options.HTTPOptions),
		NewJSONParseTool(),
		NewBase64EncodeTool(),
		NewBase64DecodeTool(),
	}
	if options.FileOptions != nil {
		list = append(list, NewFileReadTool(options.FileOptions))
	}
	for _, tool := range list {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %q: %w", tool.Name, err)
		}
	}
	return nil
}

func builtinTool(name, description string, category Category, caps ...Capability) *Tool {
	return &Tool{
		ID:           "builtin." + name,
		Name:         name,
		Description:  description,
		Category:     category,
		Capabilities: caps,
		Metadata: &ToolMetadata{
			Version:  "1.0.0",
			Provider: "builtin",
			Tags:     []string{"builtin"},
		},
	}
}

// NewHTTPGetTool creates a tool that fetches a URL. Every request passes
// the SecureHTTPExecutor host checks first.
func NewHTTPGetTool(client *http.Client, options *SecureHTTPOptions) *Tool {
	if client == nil {
		client = &http.Client{}
	}
	t := builtinTool("http_get", "Fetch a web page or API response over HTTP GET",
		CategoryResearch, CapabilityHTTPFetch)
	t.Schema = &ToolSchema{
		Type: "object",
		Properties: map[string]*Property{
			"url": {
				Type:        "string",
				Description: "The URL to request",
				Format:      "uri",
			},
			"headers": {
				Type:        "object",
				Description: "Optional HTTP headers",
				Properties:  map[string]*Property{},
			},
		},
		Required: []string{"url"},
	}
	t.Timeout = 30 * time.Second
	t.Metadata.ExpectedLatency = 500 * time.Millisecond
	t.Executor = NewSecureHTTPExecutor(httpGetExecutor{client: client}, options)
	return t
}

type httpGetExecutor struct {
	client *http.Client
}

func (e httpGetExecutor) Invoke(ctx context.Context, params map[string]interface{}, _ *ExecutionContext) (*ToolResult, error) {
	url, _ := params["url"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &ToolResult{
		Success: resp.StatusCode < http.StatusBadRequest,
		Data: map[string]interface{}{
			"status_code": resp.StatusCode,
			"headers":     resp.Header,
			"body":        string(body),
		},
		Error: httpStatusError(resp.StatusCode),
		Metadata: map[string]interface{}{
			"url":            url,
			"content_length": len(body),
		},
	}, nil
}

func httpStatusError(code int) *ResultError {
	if code < http.StatusBadRequest {
		return nil
	}
	return &ResultError{
		Code:    fmt.Sprintf("HTTP_%d", code),
		Message: http.StatusText(code),
	}
}

// NewJSONParseTool creates a tool for parsing JSON text.
func NewJSONParseTool() *Tool {
	t := builtinTool("json_parse", "Parse a JSON string into structured data",
		CategoryData, CapabilityDataTransform)
	t.Schema = &ToolSchema{
		Type: "object",
		Properties: map[string]*Property{
			"json": {
				Type:        "string",
				Description: "The JSON string to parse",
			},
		},
		Required: []string{"json"},
	}
	t.Timeout = time.Second
	t.Executor = ExecutorFunc(func(_ context.Context, params map[string]interface{}, _ *ExecutionContext) (*ToolResult, error) {
		text, _ := params["json"].(string)
		var data interface{}
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return &ToolResult{Success: true, Data: data}, nil
	})
	return t
}

// NewBase64EncodeTool creates a tool for base64 encoding.
func NewBase64EncodeTool() *Tool {
	t := builtinTool("base64_encode", "Encode text to base64",
		CategoryData, CapabilityDataTransform)
	t.Schema = &ToolSchema{
		Type: "object",
		Properties: map[string]*Property{
			"data": {
				Type:        "string",
				Description: "The data to encode",
			},
		},
		Required: []string{"data"},
	}
	t.Timeout = time.Second
	t.Executor = ExecutorFunc(func(_ context.Context, params map[string]interface{}, _ *ExecutionContext) (*ToolResult, error) {
		data, _ := params["data"].(string)
		return &ToolResult{
			Success: true,
			Data:    base64.StdEncoding.EncodeToString([]byte(data)),
		}, nil
	})
	return t
}

// NewBase64DecodeTool creates a tool for base64 decoding.
func NewBase64DecodeTool() *Tool {
	t := builtinTool("base64_decode", "Decode base64 text",
		CategoryData, CapabilityDataTransform)
	t.Schema = &ToolSchema{
		Type: "object",
		Properties: map[string]*Property{
			"data": {
				Type:        "string",
				Description: "The base64 data to decode",
			},
		},
		Required: []string{"data"},
	}
	t.Timeout = time.Second
	t.Executor = ExecutorFunc(func(_ context.Context, params map[string]interface{}, _ *ExecutionContext) (*ToolResult, error) {
		data, _ := params["data"].(string)
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return &ToolResult{Success: true, Data: string(decoded)}, nil
	})
	return t
}
