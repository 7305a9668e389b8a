package kernel

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// Built-in prompt templates. Each one is addressed by name through
// StreamTemplate / CompleteStructured, mirroring how callers would address a
// plugin in the full product.
const (
	TemplateReasoning = "reasoning"
	TemplateRewrite   = "rewrite"
	TemplateScoring   = "scoring"
	TemplateCritique  = "critique"
)

const reasoningTemplateText = `Today is {{.Date}}.

You are an expert prompt engineer. Analyze the prompt below and reason step by
step about how it could be improved. Wrap scratch work in <thought></thought>
and put your final analysis inside <output></output>.

Prompt to analyze:
{{.Prompt}}

Additional requirements from the user:
{{.Requirement}}`

const rewriteTemplateText = `You are an expert prompt engineer. Rewrite the prompt below into an improved
version, using the analysis provided. Return only the rewritten prompt, with
no preamble and no markdown fences.

Original prompt:
{{.Prompt}}

User requirements:
{{.Requirement}}

Analysis:
{{.DeepReasoning}}`

const scoringTemplateText = `You are grading how well a prompt accomplished a task. Score from 0 to 100.

Task the prompt should accomplish:
{{.OriginalPromptGoal}}

Prompt under evaluation:
{{.OptimizePromptWords}}

Output produced by that prompt:
{{.OptimizePromptWordsOutput}}
{{if .OriginalPrompt}}
For reference, the unoptimized prompt:
{{.OriginalPrompt}}

And its output:
{{.OriginalPromptOutput}}
{{end}}
Respond with a JSON object containing "description" (what the output did well
or poorly), "score" (integer 0-100), "comment" (one-line verdict) and "tags"
(short category labels). Return only the raw JSON object, no markdown.`

const critiqueTemplateText = `You are an expert prompt engineer. Critique the prompt below: point out
remaining weaknesses, ambiguities and risks, one per line.

Prompt:
{{.Prompt}}`

// TemplateSet holds named prompt templates and renders them with named
// arguments.
type TemplateSet struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// DefaultTemplates returns a set containing the built-in templates.
func DefaultTemplates() *TemplateSet {
	ts := &TemplateSet{templates: make(map[string]*template.Template)}
	ts.mustAdd(TemplateReasoning, reasoningTemplateText)
	ts.mustAdd(TemplateRewrite, rewriteTemplateText)
	ts.mustAdd(TemplateScoring, scoringTemplateText)
	ts.mustAdd(TemplateCritique, critiqueTemplateText)
	return ts
}

func (ts *TemplateSet) mustAdd(name, text string) {
	if err := ts.Add(name, text); err != nil {
		panic(fmt.Sprintf("invalid built-in template %s: %v", name, err))
	}
}

// Add registers or replaces a named template.
func (ts *TemplateSet) Add(name, text string) error {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.templates[name] = tmpl
	return nil
}

// Render executes the named template with the given arguments.
func (ts *TemplateSet) Render(name string, args map[string]any) (string, error) {
	ts.mu.RLock()
	tmpl, exists := ts.templates[name]
	ts.mu.RUnlock()
	if !exists {
		return "", NewError(ErrorTypeTemplate, fmt.Sprintf("unknown template: %s", name), nil)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, args); err != nil {
		return "", NewError(ErrorTypeTemplate, fmt.Sprintf("failed to render template %s", name), err)
	}
	return buf.String(), nil
}
