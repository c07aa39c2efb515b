package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SecureFileOptions restricts which files file_read may open.
type SecureFileOptions struct {
	// AllowedPaths are the directory roots reads must stay under.
	// Empty allows any path that is not denied.
	AllowedPaths []string

	// DenyPaths are refused even when under an allowed root
	DenyPaths []string

	// MaxFileSize is the largest file, in bytes, that will be read
	MaxFileSize int64

	// AllowSymlinks permits paths that resolve through symbolic links
	AllowSymlinks bool
}

// DefaultSecureFileOptions denies the usual credential and system
// directories and caps reads at 10MB.
func DefaultSecureFileOptions() *SecureFileOptions {
	return &SecureFileOptions{
		MaxFileSize: 10 * 1024 * 1024,
		DenyPaths: []string{
			"/etc",
			"/sys",
			"/proc",
			"~/.ssh",
			"~/.aws",
			"~/.config",
		},
	}
}

// SecureFileExecutor reads files that pass the path policy in its
// options. The opened descriptor is checked again so a file swapped
// after the path check is still refused.
type SecureFileExecutor struct {
	options *SecureFileOptions
}

// NewSecureFileExecutor creates an executor enforcing options.
func NewSecureFileExecutor(options *SecureFileOptions) *SecureFileExecutor {
	if options == nil {
		options = DefaultSecureFileOptions()
	}
	if options.MaxFileSize <= 0 {
		options.MaxFileSize = DefaultSecureFileOptions().MaxFileSize
	}
	return &SecureFileExecutor{options: options}
}

// Invoke reads params["path"]. Policy violations come back as a failed
// result; I/O faults as errors.
func (e *SecureFileExecutor) Invoke(ctx context.Context, params map[string]interface{}, _ *ExecutionContext) (*ToolResult, error) {
	path, ok := params["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("path parameter is required")
	}

	clean, err := e.validatePath(path)
	if err != nil {
		return rejectedPath(path, err), nil
	}

	file, err := os.Open(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return rejectedPath(path, fmt.Errorf("not a regular file")), nil
	}
	if info.Size() > e.options.MaxFileSize {
		return rejectedPath(path, fmt.Errorf("file size %d exceeds limit of %d bytes",
			info.Size(), e.options.MaxFileSize)), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(file, e.options.MaxFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return &ToolResult{
		Success: true,
		Data: map[string]interface{}{
			"path":    clean,
			"content": string(data),
			"size":    len(data),
		},
		Metadata: map[string]interface{}{"modified": info.ModTime().UTC().Format(time.RFC3339)},
	}, nil
}

func rejectedPath(path string, err error) *ToolResult {
	return &ToolResult{
		Success: false,
		Error: &ResultError{
			Code:    "PATH_REJECTED",
			Message: err.Error(),
			Details: map[string]interface{}{"path": path},
		},
	}
}

// validatePath returns the absolute form of path if the policy admits it.
func (e *SecureFileExecutor) validatePath(path string) (string, error) {
	clean, err := filepath.Abs(filepath.Clean(expandHome(path)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	for _, deny := range e.options.DenyPaths {
		if root, err := filepath.Abs(expandHome(deny)); err == nil && within(root, clean) {
			return "", fmt.Errorf("path is in a restricted directory")
		}
	}

	if !e.options.AllowSymlinks {
		if real, err := filepath.EvalSymlinks(clean); err == nil && real != clean {
			return "", fmt.Errorf("symbolic links are not allowed")
		}
	}

	if len(e.options.AllowedPaths) == 0 {
		return clean, nil
	}
	for _, allowed := range e.options.AllowedPaths {
		if root, err := filepath.Abs(expandHome(allowed)); err == nil && within(root, clean) {
			return clean, nil
		}
	}
	return "", fmt.Errorf("path is outside the allowed directories")
}

// within reports whether path is root or below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// NewFileReadTool creates a tool that reads a local text file under the
// policy in options.
func NewFileReadTool(options *SecureFileOptions) *Tool {
	t := builtinTool("file_read", "Read the contents of a local file",
		CategoryData, CapabilityFileRead)
	t.Schema = &ToolSchema{
		Type: "object",
		Properties: map[string]*Property{
			"path": {
				Type:        "string",
				Description: "Path of the file to read",
			},
		},
		Required: []string{"path"},
	}
	t.Timeout = 5 * time.Second
	t.NonCacheable = true
	t.Executor = NewSecureFileExecutor(options)
	return t
}
