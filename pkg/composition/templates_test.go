package composition_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/internal/testutil"
	"github.com/ag-ui/go-dispatch/pkg/composition"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

const fetchAndSummarize = `
templates:
  - name: fetch_and_summarize
    description: Download a page and summarize it
    category: research
    patterns:
      - '\b(fetch|download)\b.*\bsummar'
    steps:
      - id: fetch
        capability: HTTP_FETCH
        parameters:
          url: '{{params.url}}'
      - id: summarize
        capability: SUMMARIZE
        depends_on: [fetch]
        parameters:
          text: '{{steps.fetch.data.body}}'
`

func TestBuiltinTemplates(t *testing.T) {
	list, err := composition.BuiltinTemplates()
	require.NoError(t, err)

	names := make([]string, 0, len(list))
	for _, tmpl := range list {
		names = append(names, tmpl.Name)
	}
	assert.Equal(t, []string{"research_and_post", "research_and_email", "email_digest"}, names)

	assert.True(t, list[0].Matches("Research the topic then POST a summary"))
	assert.False(t, list[0].Matches("post then research"))
	assert.True(t, list[2].Matches("summarize my inbox"))
	assert.Equal(t, []tools.Capability{tools.CapabilityEmailRead, tools.CapabilitySummarize, tools.CapabilityEmailSend},
		list[2].RequiredCapabilities())
}

func TestLoadTemplates(t *testing.T) {
	list, err := composition.LoadTemplates(strings.NewReader(fetchAndSummarize))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tools.CategoryResearch, list[0].Category)
	assert.Equal(t, []string{"fetch"}, list[0].Steps[1].DependsOn)
	assert.True(t, list[0].Matches("download the page and summarize it"))

	empty, err := composition.LoadTemplates(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fetchAndSummarize), 0o600))
	fromFile, err := composition.LoadTemplatesFile(path)
	require.NoError(t, err)
	assert.Len(t, fromFile, 1)

	_, err = composition.LoadTemplatesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadTemplates_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad pattern": `
templates:
  - name: broken
    patterns: ['(']
    steps: [{id: a, capability: WEB_SEARCH}]`,
		"unknown dependency": `
templates:
  - name: broken
    steps: [{id: a, capability: WEB_SEARCH, depends_on: [z]}]`,
		"duplicate step": `
templates:
  - name: broken
    steps: [{id: a, capability: WEB_SEARCH}, {id: a, capability: TEXT_POST}]`,
		"no steps": `
templates:
  - name: broken`,
		"step without target": `
templates:
  - name: broken
    steps: [{id: a}]`,
		"not yaml": `templates: [`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := composition.LoadTemplates(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestEngine_TemplatesAndPatterns(t *testing.T) {
	custom, err := composition.LoadTemplates(strings.NewReader(fetchAndSummarize))
	require.NoError(t, err)

	fetch := testutil.NewTool("http.fetch", "http_fetch", testutil.NewCountingExecutor(map[string]interface{}{"body": "<html>"}), tools.CapabilityHTTPFetch)
	summarizer := testutil.NewCountingExecutor("short")
	summarize := testutil.NewTool("sum.v1", "summarize_text", summarizer, tools.CapabilitySummarize)
	engine, _ := newRoutedEngine(t, []composition.Option{composition.WithTemplates(custom...)}, fetch, summarize)

	assert.Len(t, engine.GetCompositionTemplates(""), 4)
	research := engine.GetCompositionTemplates(tools.CategoryResearch)
	require.Len(t, research, 1)
	assert.Equal(t, "fetch_and_summarize", research[0].Name)

	plan, err := engine.ComposeWorkflow(context.Background(), "fetch the page and summarize it",
		map[string]interface{}{"url": "https://example.com"}, testutil.Context())
	require.NoError(t, err)
	assert.Equal(t, "fetch_and_summarize", plan.Template)
	assert.Equal(t, "http.fetch", plan.Steps[0].ToolID)
	assert.InDelta(t, 0.8, plan.Steps[0].Confidence, 1e-9)

	result, err := engine.ExecuteComposition(context.Background(), plan, testutil.Context())
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "<html>", summarizer.Params(0)["text"])

	var seeded *composition.ToolPattern
	for _, p := range engine.GetToolPatterns() {
		if p.Source == "template:fetch_and_summarize" {
			p := p
			seeded = &p
		}
	}
	require.NotNil(t, seeded)
	assert.Equal(t, []string{"HTTP_FETCH", "SUMMARIZE"}, seeded.Sequence)

	patterns := engine.GetToolPatterns()
	assert.Equal(t, []string{"http_fetch", "summarize_text"}, patterns[0].Sequence, "executed sequences rank first")
	assert.EqualValues(t, 1, patterns[0].Occurrences)

	m := engine.GetCompositionMetrics()
	assert.EqualValues(t, 1, m.TemplatePlans["fetch_and_summarize"])
}

func TestEngine_AddTemplate(t *testing.T) {
	engine, _ := newRoutedEngine(t, nil)

	require.Error(t, engine.AddTemplate(&composition.Template{Name: "empty"}))

	err := engine.AddTemplate(&composition.Template{
		Name:     "research_and_post",
		Category: tools.CategoryContent,
		Patterns: []string{`\bblog\b`},
		Steps:    []composition.TemplateStep{{ID: "write", Capability: tools.CapabilityContentGenerate}},
	})
	require.NoError(t, err)

	all := engine.GetCompositionTemplates("")
	assert.Len(t, all, 3, "a template with an existing name replaces it")
	content := engine.GetCompositionTemplates(tools.CategoryContent)
	require.Len(t, content, 1)
	assert.True(t, content[0].Matches("write a blog"))
}
