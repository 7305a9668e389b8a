// Package evaluation implements the multi-model evaluation pipeline: a
// coordinator fans out one worker per candidate model, each worker optionally
// runs the deep-reasoning chain, executes the original and optimized prompts,
// scores the outputs and aggregates repeated executions.
package evaluation

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

// Request is the immutable input of one evaluation run.
type Request struct {
	Models             []string `json:"models" validate:"required,min=1"`
	Prompt             string   `json:"prompt" validate:"required"`
	Request            string   `json:"request" validate:"required"`
	Requirements       string   `json:"requirements"`
	ExecutionCount     int      `json:"executionCount"`
	EnableOptimization bool     `json:"enableOptimization"`
	Credential         string   `json:"apiKey" validate:"required"`
}

// Normalize dedupes the model list (dropping empty entries, keeping first-seen
// order) and floors the execution count at 1.
func (r Request) Normalize() Request {
	seen := make(map[string]struct{}, len(r.Models))
	models := make([]string, 0, len(r.Models))
	for _, model := range r.Models {
		if model == "" {
			continue
		}
		if _, dup := seen[model]; dup {
			continue
		}
		seen[model] = struct{}{}
		models = append(models, model)
	}
	r.Models = models
	if r.ExecutionCount < 1 {
		r.ExecutionCount = 1
	}
	return r
}

var validate = validator.New()

// Validate checks a normalized request before dispatch.
func (r Request) Validate() error {
	return validate.Struct(r)
}

// ScoreRecord is the structured reply of the scoring template.
type ScoreRecord struct {
	Description string   `json:"description"`
	Score       int      `json:"score"`
	Comment     string   `json:"comment"`
	Tags        []string `json:"tags"`
}

// ExecutionResult is one scored attempt for one model.
type ExecutionResult struct {
	Comment               string   `json:"comment"`
	Description           string   `json:"description"`
	Score                 int      `json:"score"`
	Tags                  []string `json:"tags"`
	EffectivePrompt       string   `json:"effectivePrompt"`
	EffectivePromptOutput string   `json:"effectivePromptOutput"`
	OriginalPrompt        string   `json:"originalPrompt"`
	OriginalPromptOutput  string   `json:"originalPromptOutput"`
}

// ModelOutcome aggregates all executions of one model. ExecutionResults is
// only populated for repeated executions; a single-execution outcome carries
// its result in BestResult alone.
type ModelOutcome struct {
	Model            string            `json:"model"`
	Score            int               `json:"score"`
	Description      string            `json:"description,omitempty"`
	Comment          string            `json:"comment,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	ExecutionCount   int               `json:"executionCount"`
	BestResult       *ExecutionResult  `json:"bestResult,omitempty"`
	ExecutionResults []ExecutionResult `json:"executionResults,omitempty"`
}

// newOutcome freezes a model's execution list into its summary form. Score is
// the arithmetic mean rounded to the nearest integer; BestResult is the
// highest score with ties broken by first-seen order.
func newOutcome(model string, results []ExecutionResult) *ModelOutcome {
	outcome := &ModelOutcome{
		Model:          model,
		ExecutionCount: len(results),
	}
	if len(results) == 0 {
		return outcome
	}

	sum := 0
	best := 0
	for i, result := range results {
		sum += result.Score
		if result.Score > results[best].Score {
			best = i
		}
	}
	outcome.Score = int(math.Round(float64(sum) / float64(len(results))))
	outcome.BestResult = &results[best]
	outcome.Description = results[best].Description
	outcome.Comment = results[best].Comment
	outcome.Tags = results[best].Tags
	if len(results) > 1 {
		outcome.ExecutionResults = results
	}
	return outcome
}

// ResultKind tags a per-model result variant.
type ResultKind int

const (
	// ResultOK carries a completed outcome.
	ResultOK ResultKind = iota
	// ResultCircuitBroken means the model's circuit breaker rejected a call
	// and the worker aborted.
	ResultCircuitBroken
	// ResultFailed covers every other worker abort.
	ResultFailed
)

// ModelResult is the tagged union produced by a worker and consumed uniformly
// by the aggregator: Ok(outcome) | CircuitBroken(message) | Failed(message).
type ModelResult struct {
	Model   string
	Kind    ResultKind
	Outcome *ModelOutcome
	Message string
}

// Resolve returns a uniform outcome view: error variants become a zero-score
// outcome carrying the failure message as its description.
func (r ModelResult) Resolve() *ModelOutcome {
	if r.Kind == ResultOK && r.Outcome != nil {
		return r.Outcome
	}
	return &ModelOutcome{
		Model:       r.Model,
		Score:       0,
		Description: r.Message,
	}
}

// Summary is the aggregate record of one evaluation run.
type Summary struct {
	ID                 string                   `json:"id"`
	TotalModels        int                      `json:"totalModels"`
	ExecutionCount     int                      `json:"executionCount"`
	EnableOptimization bool                     `json:"enableOptimization"`
	PerModel           map[string]*ModelOutcome `json:"perModel"`
	ScoreBuckets       map[string]int           `json:"scoreBuckets"`
	TagFrequency       map[string]int           `json:"tagFrequency"`
	StartTime          time.Time                `json:"startTime"`
	EndTime            time.Time                `json:"endTime"`
	TotalDurationMs    int64                    `json:"totalDurationMs"`
}
