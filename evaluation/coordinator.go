package evaluation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/promptforge/promptd/auth"
	"github.com/promptforge/promptd/breaker"
	"github.com/promptforge/promptd/kernel"
	"github.com/promptforge/promptd/reasoning"
	"github.com/promptforge/promptd/utils"
)

const defaultParallelism = 8

// Store is the persistence collaborator: an append-only write of one summary
// keyed by user identity.
type Store interface {
	Append(ctx context.Context, userID string, summary *Summary) (string, error)
}

// Coordinator fans evaluation workers out across the requested model set and
// reduces their results into a Summary.
type Coordinator struct {
	factory      kernel.Factory
	breakers     *breaker.Registry
	chain        *reasoning.Chain
	store        Store
	logger       utils.Logger
	pool         *ants.Pool
	scoringModel string
}

type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger utils.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithStore enables best-effort persistence of summaries.
func WithStore(store Store) CoordinatorOption {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithScoringModel sets the model used for grading outputs.
func WithScoringModel(model string) CoordinatorOption {
	return func(c *Coordinator) {
		c.scoringModel = model
	}
}

// NewCoordinator creates a coordinator. parallelism bounds how many model
// workers run concurrently across all requests.
func NewCoordinator(factory kernel.Factory, breakers *breaker.Registry, parallelism int, opts ...CoordinatorOption) (*Coordinator, error) {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	pool, err := ants.NewPool(parallelism)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	c := &Coordinator{
		factory:      factory,
		breakers:     breakers,
		pool:         pool,
		logger:       utils.NewLogger(utils.LogLevelInfo),
		scoringModel: "gpt-4o-mini",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.chain = reasoning.NewChain(breakers, c.logger)
	return c, nil
}

// Close releases the worker pool.
func (c *Coordinator) Close() {
	c.pool.Release()
}

// Run evaluates the request without emitting progress events.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Summary, error) {
	return c.RunStreaming(ctx, req, NopSink())
}

// RunStreaming evaluates the request, emitting ordered lifecycle events to
// sink as they occur. Event writes are serialized so concurrent workers
// cannot interleave within one frame.
func (c *Coordinator) RunStreaming(ctx context.Context, req Request, sink Sink) (*Summary, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid evaluation request: %w", err)
	}

	scoring, err := c.factory(c.scoringModel, req.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring client: %w", err)
	}
	w := &worker{
		factory:  c.factory,
		breakers: c.breakers,
		chain:    c.chain,
		scoring:  scoring,
		logger:   c.logger,
	}

	serial := newSerialSink(sink)
	start := time.Now()
	serial.Send(EventStart, StartPayload{
		TotalModels:        len(req.Models),
		ExecutionCount:     req.ExecutionCount,
		EnableOptimization: req.EnableOptimization,
		TotalTasks:         len(req.Models) * req.ExecutionCount,
		StartTime:          start,
	})
	c.logger.Info("evaluation started",
		"models", len(req.Models), "executions", req.ExecutionCount, "optimization", req.EnableOptimization)

	results := make([]ModelResult, len(req.Models))
	var wg sync.WaitGroup
	for i, model := range req.Models {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			serial.Send(EventModelStart, ProgressPayload{Model: model})
			result := w.evaluate(ctx, model, req, serial)
			results[i] = result
			if result.Kind == ResultOK {
				serial.Send(EventModelComplete, ModelCompletePayload{Model: model, Result: result.Outcome})
			} else {
				serial.Send(EventModelError, ModelErrorPayload{Model: model, Error: result.Message})
			}
		}
		if err := c.pool.Submit(task); err != nil {
			// Pool unavailable (released or overloaded): fall back to a
			// plain goroutine rather than dropping the model.
			go task()
		}
	}
	wg.Wait()

	// Cancelled runs are discarded, not persisted.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := time.Now()
	summary := BuildSummary(req, results, start, end)
	serial.Send(EventComplete, CompletePayload{EndTime: end, TotalDurationMs: summary.TotalDurationMs})
	c.logger.Info("evaluation complete", "id", summary.ID, "durationMs", summary.TotalDurationMs)

	c.persist(ctx, summary)
	return summary, nil
}

// persist stores the summary when the caller is authenticated. Failures are
// logged, never surfaced: the evaluation itself already succeeded.
func (c *Coordinator) persist(ctx context.Context, summary *Summary) {
	if c.store == nil {
		return
	}
	identity := auth.FromContext(ctx)
	if identity == nil {
		c.logger.Debug("anonymous evaluation run, skipping persistence", "id", summary.ID)
		return
	}
	if _, err := c.store.Append(ctx, identity.UserID, summary); err != nil {
		c.logger.Warn("failed to persist evaluation summary", "id", summary.ID, "error", err)
	}
}
