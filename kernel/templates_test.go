package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplatesRender(t *testing.T) {
	ts := DefaultTemplates()

	out, err := ts.Render(TemplateReasoning, map[string]any{
		"Date":        "2025-06-01",
		"Prompt":      "write a poem",
		"Requirement": "keep it short",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "2025-06-01")
	assert.Contains(t, out, "write a poem")
	assert.Contains(t, out, "keep it short")

	out, err = ts.Render(TemplateRewrite, map[string]any{
		"Prompt":        "write a poem",
		"Requirement":   "",
		"DeepReasoning": "the prompt lacks a subject",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "the prompt lacks a subject")
}

func TestScoringTemplateOmitsOriginalWhenAbsent(t *testing.T) {
	ts := DefaultTemplates()

	out, err := ts.Render(TemplateScoring, map[string]any{
		"OriginalPromptGoal":        "summarize text",
		"OptimizePromptWords":       "prompt words",
		"OptimizePromptWordsOutput": "prompt output",
		"OriginalPrompt":            "",
		"OriginalPromptOutput":      "",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "unoptimized prompt")

	out, err = ts.Render(TemplateScoring, map[string]any{
		"OriginalPromptGoal":        "summarize text",
		"OptimizePromptWords":       "prompt words",
		"OptimizePromptWordsOutput": "prompt output",
		"OriginalPrompt":            "orig",
		"OriginalPromptOutput":      "orig out",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "unoptimized prompt")
}

func TestRenderUnknownTemplate(t *testing.T) {
	ts := DefaultTemplates()
	_, err := ts.Render("missing", nil)
	assert.Error(t, err)
}

func TestAddCustomTemplate(t *testing.T) {
	ts := DefaultTemplates()
	require.NoError(t, ts.Add("greet", "hello {{.Name}}"))

	out, err := ts.Render("greet", map[string]any{"Name": "promptd"})
	require.NoError(t, err)
	assert.Equal(t, "hello promptd", out)
}
