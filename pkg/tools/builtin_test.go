package tools_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/internal/testutil"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

type staticResolver map[string][]netip.Addr

func (r staticResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	return r[host], nil
}

func builtinExecutor(t *testing.T, opts *tools.BuiltinToolsOptions) *tools.Executor {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltinTools(reg, opts))
	return tools.NewExecutor(reg)
}

func TestBuiltinTools_Registered(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltinTools(reg, nil))

	assert.Equal(t, 4, reg.Count())
	assert.Len(t, reg.ListByCapability(tools.CapabilityDataTransform), 3)
	assert.Len(t, reg.ListByCapability(tools.CapabilityHTTPFetch), 1)

	err := tools.RegisterBuiltinTools(reg, nil)
	assert.ErrorIs(t, err, tools.ErrDuplicateTool)
}

func TestBuiltinTools_DataTransforms(t *testing.T) {
	executor := builtinExecutor(t, nil)
	ctx := testutil.Context()

	res, err := executor.Execute(context.Background(), "json_parse",
		map[string]interface{}{"json": `{"a":[1,2]}`}, ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": []interface{}{1.0, 2.0}}, res.Data)

	_, err = executor.Execute(context.Background(), "json_parse",
		map[string]interface{}{"json": `{`}, ctx)
	assert.ErrorIs(t, err, tools.ErrToolExecution)

	res, err = executor.Execute(context.Background(), "base64_encode",
		map[string]interface{}{"data": "hello"}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", res.Data)

	res, err = executor.Execute(context.Background(), "base64_decode",
		map[string]interface{}{"data": "aGVsbG8="}, ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Data)

	_, err = executor.Execute(context.Background(), "base64_decode",
		map[string]interface{}{"data": "%%%"}, ctx)
	assert.ErrorIs(t, err, tools.ErrToolExecution)
}

func TestBuiltinTools_HTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	executor := builtinExecutor(t, &tools.BuiltinToolsOptions{
		HTTPOptions: &tools.SecureHTTPOptions{AllowPrivateNetworks: true},
		HTTPClient:  srv.Client(),
	})

	res, err := executor.Execute(context.Background(), "http_get", map[string]interface{}{
		"url":     srv.URL + "/ping",
		"headers": map[string]interface{}{"X-Test": "yes"},
	}, testutil.Context())
	require.NoError(t, err)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, http.StatusOK, data["status_code"])
	assert.Equal(t, "pong", data["body"])

	res, err = executor.Execute(context.Background(), "http_get", map[string]interface{}{
		"url":     srv.URL + "/missing",
		"headers": map[string]interface{}{"X-Test": "yes"},
	}, testutil.Context())
	assert.ErrorIs(t, err, tools.ErrToolExecution)
	assert.Equal(t, "HTTP_404", res.Error.Code)
}

func TestSecureHTTPExecutor_Policy(t *testing.T) {
	inner := testutil.NewCountingExecutor("fetched")
	resolver := staticResolver{
		"internal.example": {netip.MustParseAddr("10.1.2.3")},
		"api.example.com":  {netip.MustParseAddr("93.184.216.34")},
	}

	tests := []struct {
		name    string
		url     string
		opts    *tools.SecureHTTPOptions
		allowed bool
	}{
		{"loopback literal", "http://127.0.0.1/x", nil, false},
		{"metadata endpoint", "http://169.254.169.254/latest", nil, false},
		{"bad scheme", "file:///etc/passwd", nil, false},
		{"private after resolution", "https://internal.example/", &tools.SecureHTTPOptions{Resolver: resolver}, false},
		{"public host", "https://api.example.com/v1", &tools.SecureHTTPOptions{Resolver: resolver}, true},
		{"not in allow list", "https://api.example.com/v1",
			&tools.SecureHTTPOptions{Resolver: resolver, AllowedHosts: []string{"other.org"}}, false},
		{"subdomain of allowed", "https://api.example.com/v1",
			&tools.SecureHTTPOptions{Resolver: resolver, AllowedHosts: []string{"EXAMPLE.com"}}, true},
		{"private allowed", "http://127.0.0.1/x", &tools.SecureHTTPOptions{AllowPrivateNetworks: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secure := tools.NewSecureHTTPExecutor(inner, tt.opts)
			before := inner.Calls()

			res, err := secure.Invoke(context.Background(), map[string]interface{}{"url": tt.url}, testutil.Context())
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, res.Success)
			assert.Equal(t, tt.allowed, inner.Calls() > before)
			if !tt.allowed {
				assert.Equal(t, "URL_REJECTED", res.Error.Code)
			}
		})
	}
}

func TestBuiltinTools_FileRead(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	outside, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	notes := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("hello"), 0o600))
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("nope"), 0o600))
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(secret, link))
	big := filepath.Join(root, "big.txt")
	require.NoError(t, os.WriteFile(big, make([]byte, 64), 0o600))

	executor := builtinExecutor(t, &tools.BuiltinToolsOptions{
		FileOptions: &tools.SecureFileOptions{AllowedPaths: []string{root}, MaxFileSize: 32},
	})

	res, err := executor.Execute(context.Background(), "file_read",
		map[string]interface{}{"path": notes}, testutil.Context())
	require.NoError(t, err)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, "hello", data["content"])
	assert.Equal(t, 5, data["size"])

	tests := []struct {
		name string
		path string
	}{
		{"outside allowed root", secret},
		{"parent traversal", filepath.Join(root, "..", filepath.Base(outside), "secret.txt")},
		{"symlink", link},
		{"directory", root},
		{"too large", big},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := executor.Execute(context.Background(), "file_read",
				map[string]interface{}{"path": tt.path}, testutil.Context())
			assert.ErrorIs(t, err, tools.ErrToolExecution)
			require.NotNil(t, res)
			assert.Equal(t, "PATH_REJECTED", res.Error.Code)
		})
	}

	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltinTools(reg, nil))
	assert.Nil(t, reg.Find("file_read"), "file_read is opt-in")
}
