// Package reasoning implements the two-stage deep-reasoning chain: a
// reasoning pass that analyzes the prompt, followed by a rewrite pass that
// produces the optimized prompt from that analysis.
package reasoning

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/promptforge/promptd/breaker"
	"github.com/promptforge/promptd/kernel"
	"github.com/promptforge/promptd/utils"
)

// Stage identifies which chain stage produced a streamed delta.
type Stage int

const (
	StageReasoning Stage = iota
	StageRewrite
	StageCritique
)

// DeltaFunc observes streamed text deltas as they arrive. It may be nil when
// the caller only needs the accumulated result.
type DeltaFunc func(stage Stage, text string)

// Chain runs the deep-reasoning pipeline against a kernel client. Every
// streaming call is individually guarded by the circuit breaker keyed on the
// client's model.
type Chain struct {
	breakers *breaker.Registry
	logger   utils.Logger
}

func NewChain(breakers *breaker.Registry, logger utils.Logger) *Chain {
	return &Chain{breakers: breakers, logger: logger}
}

// Run executes both stages. Stage 1 streams the reasoning template and strips
// the scratch-work envelope; Stage 2 feeds the result into the rewrite
// template. A Stage 1 failure aborts the chain, so Stage 2 never runs on a
// failed analysis.
func (c *Chain) Run(ctx context.Context, client kernel.Invoker, prompt, requirements string, onDelta DeltaFunc) (string, string, error) {
	reasoningText, err := c.streamStage(ctx, client, StageReasoning, kernel.TemplateReasoning, map[string]any{
		"Date":        time.Now().Format("2006-01-02"),
		"Prompt":      prompt,
		"Requirement": requirements,
	}, onDelta)
	if err != nil {
		return "", "", err
	}
	reasoningText = StripEnvelope(reasoningText)
	c.logger.Debug("reasoning stage complete", "model", client.Model(), "chars", len(reasoningText))

	rewritten, err := c.streamStage(ctx, client, StageRewrite, kernel.TemplateRewrite, map[string]any{
		"Prompt":        prompt,
		"Requirement":   requirements,
		"DeepReasoning": reasoningText,
	}, onDelta)
	if err != nil {
		return reasoningText, "", err
	}
	c.logger.Debug("rewrite stage complete", "model", client.Model(), "chars", len(rewritten))

	return reasoningText, rewritten, nil
}

// Critique streams a critique of an optimized prompt. Used by the prompt
// generation service after the rewrite stage.
func (c *Chain) Critique(ctx context.Context, client kernel.Invoker, prompt string, onDelta DeltaFunc) (string, error) {
	return c.streamStage(ctx, client, StageCritique, kernel.TemplateCritique, map[string]any{
		"Prompt": prompt,
	}, onDelta)
}

// streamStage opens one streaming template call and drains it. The open and
// the drain both run inside the breaker so that mid-stream failures count
// against the model's breaker too.
func (c *Chain) streamStage(ctx context.Context, client kernel.Invoker, stage Stage, templateName string, args map[string]any, onDelta DeltaFunc) (string, error) {
	return breaker.Do(c.breakers, client.Model(), func() (string, error) {
		stream, err := client.StreamTemplate(ctx, templateName, args)
		if err != nil {
			return "", err
		}
		if onDelta == nil {
			return kernel.Collect(ctx, stream)
		}

		defer stream.Close()
		var sb strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				return sb.String(), nil
			}
			if err != nil {
				return sb.String(), err
			}
			sb.WriteString(token.Text)
			onDelta(stage, token.Text)
		}
	})
}
