package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestToolsCommand(t *testing.T) {
	out, err := run(t, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "builtin.json_parse")
	assert.Contains(t, out, "builtin.http_get")

	out, err = run(t, "tools", "--capability", "data_transform")
	require.NoError(t, err)
	assert.Contains(t, out, "builtin.base64_encode")
	assert.NotContains(t, out, "builtin.http_get")
}

func TestToolsCommand_ProviderFormats(t *testing.T) {
	out, err := run(t, "tools", "--format", "openai")
	require.NoError(t, err)
	var openai []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &openai))
	require.NotEmpty(t, openai)
	names := make([]string, 0, len(openai))
	for _, fn := range openai {
		assert.Equal(t, "function", fn["type"])
		names = append(names, fn["function"].(map[string]interface{})["name"].(string))
	}
	assert.Contains(t, names, "json_parse")

	out, err = run(t, "tools", "--format", "anthropic", "--capability", "http_fetch")
	require.NoError(t, err)
	var anthropic []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &anthropic))
	require.Len(t, anthropic, 1)
	assert.Equal(t, "http_get", anthropic[0]["name"])
	assert.Contains(t, anthropic[0], "input_schema")

	_, err = run(t, "tools", "--format", "xml")
	assert.Error(t, err)
}

func TestToolsCommand_FileRoots(t *testing.T) {
	out, err := run(t, "tools")
	require.NoError(t, err)
	assert.NotContains(t, out, "file_read")

	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  file_roots: [\""+t.TempDir()+"\"]\n"), 0o600))
	out, err = run(t, "tools", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "file_read")
}

func TestTemplatesCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	templates := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(templates, []byte(`
templates:
  - name: decode_and_parse
    category: data
    steps:
      - id: decode
        tool: base64_decode
      - id: parse
        tool: json_parse
        depends_on: [decode]
`), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("composition:\n  templates_file: "+templates+"\n"), 0o600))

	out, err := run(t, "templates", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "research_and_post")
	assert.Contains(t, out, "decode->parse")

	out, err = run(t, "templates", "--config", path, "--category", "data")
	require.NoError(t, err)
	assert.NotContains(t, out, "research_and_post")
}

func TestRouteCommand_InProcess(t *testing.T) {
	out, err := run(t, "route", "--tool", "builtin.json_parse", "-p", `json="{\"a\":1}"`)
	require.NoError(t, err)

	var result struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, result.Data)

	_, err = run(t, "route")
	assert.Error(t, err)

	_, err = run(t, "route", "--tool", "builtin.missing")
	assert.Error(t, err)
}

func TestComposeCommand_InProcess(t *testing.T) {
	out, err := run(t, "compose", "encode text to base64", "-p", "data=aGVsbG8=", "--execute")
	require.NoError(t, err)

	var resp struct {
		Plan struct {
			Steps []struct {
				ToolID string `json:"toolId"`
			} `json:"steps"`
		} `json:"plan"`
		Result struct {
			Success bool `json:"success"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Plan.Steps)
	assert.True(t, resp.Result.Success)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"n=3", "flag=true", "name=bob", "list=[1,2]"}, `{"base":"x","n":1}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"base": "x",
		"n":    float64(3),
		"flag": true,
		"name": "bob",
		"list": []interface{}{float64(1), float64(2)},
	}, params)

	_, err = parseParams([]string{"novalue"}, "")
	assert.Error(t, err)
	_, err = parseParams(nil, "{")
	assert.Error(t, err)
}
