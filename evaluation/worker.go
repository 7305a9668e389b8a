package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/promptforge/promptd/breaker"
	"github.com/promptforge/promptd/kernel"
	"github.com/promptforge/promptd/reasoning"
	"github.com/promptforge/promptd/utils"
)

// worker evaluates one model. The same implementation backs the streaming and
// non-streaming entry points; the non-streaming path just gets a no-op sink.
type worker struct {
	factory  kernel.Factory
	breakers *breaker.Registry
	chain    *reasoning.Chain
	scoring  kernel.Invoker
	logger   utils.Logger
}

// evaluate runs the full per-model pipeline: for each execution round,
// optionally optimize via deep reasoning, execute original and optimized
// prompts, then score. A tripped circuit breaker aborts the whole worker; so
// does any other error mid-round, matching the coordinator's abort semantics.
func (w *worker) evaluate(ctx context.Context, model string, req Request, sink Sink) ModelResult {
	client, err := w.factory(model, req.Credential)
	if err != nil {
		return w.fail(model, fmt.Errorf("failed to create client: %w", err))
	}

	results := make([]ExecutionResult, 0, req.ExecutionCount)
	for execution := 1; execution <= req.ExecutionCount; execution++ {
		if err := ctx.Err(); err != nil {
			return w.fail(model, err)
		}

		optimizedPrompt := ""
		if req.EnableOptimization {
			sink.Send(EventOptimizeStart, ProgressPayload{Model: model, Execution: execution})
			_, rewritten, err := w.chain.Run(ctx, client, req.Prompt, req.Requirements, nil)
			if err != nil {
				return w.fail(model, err)
			}
			optimizedPrompt = rewritten
			sink.Send(EventOptimizeComplete, ProgressPayload{Model: model, Execution: execution})
		}

		sink.Send(EventExecuteOriginal, ProgressPayload{Model: model, Execution: execution})
		originalOutput, err := breaker.Do(w.breakers, model, func() (string, error) {
			return client.CompletePrompt(ctx, req.Prompt+req.Request)
		})
		if err != nil {
			return w.fail(model, err)
		}

		effectivePrompt, effectiveOutput := req.Prompt, originalOutput
		if req.EnableOptimization {
			sink.Send(EventExecuteOptimized, ProgressPayload{Model: model, Execution: execution})
			optimizedOutput, err := breaker.Do(w.breakers, model, func() (string, error) {
				return client.CompletePrompt(ctx, optimizedPrompt+"\n"+req.Request)
			})
			if err != nil {
				return w.fail(model, err)
			}
			effectivePrompt, effectiveOutput = optimizedPrompt, optimizedOutput
		}

		sink.Send(EventScoring, ProgressPayload{Model: model, Execution: execution})
		record, err := w.score(ctx, req, effectivePrompt, effectiveOutput, originalOutput)
		if err != nil {
			return w.fail(model, err)
		}

		results = append(results, ExecutionResult{
			Comment:               record.Comment,
			Description:           record.Description,
			Score:                 record.Score,
			Tags:                  record.Tags,
			EffectivePrompt:       effectivePrompt,
			EffectivePromptOutput: effectiveOutput,
			OriginalPrompt:        req.Prompt,
			OriginalPromptOutput:  originalOutput,
		})
	}

	return ModelResult{Model: model, Kind: ResultOK, Outcome: newOutcome(model, results)}
}

// score grades one execution through the shared scoring model. Malformed
// scoring replies degrade to a zero score instead of failing the worker.
func (w *worker) score(ctx context.Context, req Request, effectivePrompt, effectiveOutput, originalOutput string) (ScoreRecord, error) {
	args := map[string]any{
		"OriginalPromptGoal":        req.Request,
		"OptimizePromptWords":       effectivePrompt,
		"OptimizePromptWordsOutput": effectiveOutput,
		"OriginalPrompt":            "",
		"OriginalPromptOutput":      "",
	}
	if req.EnableOptimization {
		args["OriginalPrompt"] = req.Prompt
		args["OriginalPromptOutput"] = originalOutput
	}

	// A malformed reply to a successful HTTP call is not upstream trouble, so
	// it must not count against the scoring breaker. It is caught inside the
	// op and reported out-of-band as a breaker success.
	var record ScoreRecord
	var parseErr error
	_, err := w.breakers.Execute(w.scoring.Model(), func() (any, error) {
		err := w.scoring.CompleteStructured(ctx, kernel.TemplateScoring, args, &record)
		if kernel.IsResponseError(err) {
			parseErr = err
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return ScoreRecord{}, err
	}
	if parseErr != nil {
		w.logger.Warn("scoring reply unparseable, defaulting to zero score", "error", parseErr)
		return ScoreRecord{Description: "scoring response could not be parsed"}, nil
	}

	// Scores outside [0,100] violate the scoring template contract.
	if record.Score < 0 || record.Score > 100 {
		w.logger.Warn("score out of range, clamping", "score", record.Score)
		record.Score = min(max(record.Score, 0), 100)
	}
	return record, nil
}

func (w *worker) fail(model string, err error) ModelResult {
	if errors.Is(err, breaker.ErrCircuitOpen) {
		// err names the breaker key that tripped, which may be the scoring
		// model rather than this worker's chat model.
		message := fmt.Sprintf("%s, evaluation aborted", err)
		w.logger.Warn("worker aborted by open circuit", "model", model, "error", err)
		return ModelResult{Model: model, Kind: ResultCircuitBroken, Message: message}
	}
	w.logger.Error("worker failed", "model", model, "error", err)
	return ModelResult{Model: model, Kind: ResultFailed, Message: err.Error()}
}
