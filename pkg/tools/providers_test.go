package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/internal/testutil"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

func TestParseProviderFormat(t *testing.T) {
	for in, want := range map[string]tools.ProviderFormat{
		"":           tools.FormatNative,
		"native":     tools.FormatNative,
		"OpenAI":     tools.FormatOpenAI,
		" anthropic": tools.FormatAnthropic,
	} {
		got, err := tools.ParseProviderFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := tools.ParseProviderFormat("gemini")
	assert.ErrorIs(t, err, tools.ErrToolValidation)
}

func TestExportTools(t *testing.T) {
	minLen := 3
	email := testutil.NewEmailTool("email-1", testutil.NewCountingExecutor(nil))
	email.Schema.Properties["subject"].MinLength = &minLen
	off := testutil.NewTool("off-1", "disabled_tool", testutil.NewCountingExecutor(nil))
	off.Disabled = true

	t.Run("openai", func(t *testing.T) {
		out, err := tools.ExportTools([]*tools.Tool{email, off}, tools.FormatOpenAI)
		require.NoError(t, err)
		list := out.([]*tools.OpenAITool)
		require.Len(t, list, 1, "disabled tools are not offered to models")

		fn := list[0]
		assert.Equal(t, "function", fn.Type)
		assert.Equal(t, "send_email", fn.Function.Name)
		assert.Equal(t, email.Description, fn.Function.Description)
		assert.Equal(t, "object", fn.Function.Parameters["type"])
		assert.Equal(t, []string{"to"}, fn.Function.Parameters["required"])

		props := fn.Function.Parameters["properties"].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{"type": "string", "format": "email"}, props["to"])
		assert.Equal(t, 3, props["subject"].(map[string]interface{})["minLength"])
	})

	t.Run("anthropic", func(t *testing.T) {
		out, err := tools.ExportTools([]*tools.Tool{email}, tools.FormatAnthropic)
		require.NoError(t, err)
		list := out.([]*tools.AnthropicTool)
		require.Len(t, list, 1)
		assert.Equal(t, "send_email", list[0].Name)
		assert.Contains(t, list[0].InputSchema["properties"], "body")

		raw, err := json.Marshal(list[0])
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"input_schema"`)
	})

	t.Run("native", func(t *testing.T) {
		out, err := tools.ExportTools([]*tools.Tool{email, off}, tools.FormatNative)
		require.NoError(t, err)
		assert.Len(t, out.([]*tools.Tool), 1)
	})

	t.Run("nil schema", func(t *testing.T) {
		bare := testutil.NewTool("bare-1", "bare", testutil.NewCountingExecutor(nil))
		bare.Schema = nil
		fn := tools.ToOpenAITool(bare)
		assert.Equal(t, map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, fn.Function.Parameters)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := tools.ExportTools(nil, "gemini")
		assert.ErrorIs(t, err, tools.ErrToolValidation)
	})
}

func TestParseOpenAIToolCall(t *testing.T) {
	name, args, err := tools.ParseOpenAIToolCall(&tools.OpenAIToolCall{
		ID:   "call_1",
		Type: "function",
		Function: tools.OpenAIFunctionCall{
			Name:      "send_email",
			Arguments: `{"to":"a@example.com","subject":"hi"}`,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "send_email", name)
	assert.Equal(t, map[string]interface{}{"to": "a@example.com", "subject": "hi"}, args)

	_, args, err = tools.ParseOpenAIToolCall(&tools.OpenAIToolCall{Function: tools.OpenAIFunctionCall{Name: "noop"}})
	require.NoError(t, err)
	assert.Empty(t, args)

	_, _, err = tools.ParseOpenAIToolCall(&tools.OpenAIToolCall{Function: tools.OpenAIFunctionCall{Name: "x", Arguments: `[1,2]`}})
	assert.ErrorIs(t, err, tools.ErrToolValidation)

	_, _, err = tools.ParseOpenAIToolCall(nil)
	assert.ErrorIs(t, err, tools.ErrToolValidation)
}

func TestParseAnthropicToolUse(t *testing.T) {
	name, input, err := tools.ParseAnthropicToolUse(&tools.AnthropicToolUse{ID: "tu_1", Name: "send_email"})
	require.NoError(t, err)
	assert.Equal(t, "send_email", name)
	assert.NotNil(t, input)

	_, _, err = tools.ParseAnthropicToolUse(&tools.AnthropicToolUse{ID: "tu_2"})
	assert.ErrorIs(t, err, tools.ErrToolValidation)
}

func TestProviderCallRoundTrip(t *testing.T) {
	counter := testutil.NewCountingExecutor(map[string]interface{}{"sent": true})
	reg := testutil.Registry(t, testutil.NewEmailTool("email-1", counter))
	exec := tools.NewExecutor(reg)

	name, args, err := tools.ParseOpenAIToolCall(&tools.OpenAIToolCall{
		ID:       "call_9",
		Function: tools.OpenAIFunctionCall{Name: "send_email", Arguments: `{"to":"a@example.com"}`},
	})
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), name, args, testutil.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, counter.Calls())

	msg, err := tools.ResultToOpenAI(result, "call_9")
	require.NoError(t, err)
	assert.Equal(t, "tool", msg.Role)
	assert.Equal(t, "call_9", msg.ToolCallID)
	assert.JSONEq(t, `{"sent":true}`, msg.Content)

	block, err := tools.ResultToAnthropic(result, "tu_9")
	require.NoError(t, err)
	assert.False(t, block.IsError)
	assert.Equal(t, result.Data, block.Content)

	failed, err := exec.Execute(context.Background(), "send_email", map[string]interface{}{}, testutil.Context())
	require.Error(t, err)
	msg, err = tools.ResultToOpenAI(failed, "call_10")
	require.NoError(t, err)
	assert.Contains(t, msg.Content, failed.Error.Message)
	block, err = tools.ResultToAnthropic(failed, "tu_10")
	require.NoError(t, err)
	assert.True(t, block.IsError)

	_, err = tools.ResultToOpenAI(nil, "x")
	assert.Error(t, err)
}
