package evaluation

import (
	"sync"
	"time"
)

// Lifecycle event names emitted during an evaluation run. Events for one
// model keep their relative order; events of different models may interleave.
const (
	EventStart            = "start"
	EventModelStart       = "model-start"
	EventOptimizeStart    = "optimize-start"
	EventOptimizeComplete = "optimize-complete"
	EventExecuteOriginal  = "execute-original"
	EventExecuteOptimized = "execute-optimized"
	EventScoring          = "scoring"
	EventModelComplete    = "model-complete"
	EventModelError       = "model-error"
	EventComplete         = "complete"
)

// Sink receives lifecycle events. Implementations do not need to be
// goroutine-safe; the coordinator serializes all writes.
type Sink interface {
	Send(event string, payload any) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event string, payload any) error

func (f SinkFunc) Send(event string, payload any) error {
	return f(event, payload)
}

// NopSink discards all events. Used by the non-streaming entry point.
func NopSink() Sink {
	return SinkFunc(func(string, any) error { return nil })
}

// serialSink guards a sink with a mutex so concurrent workers cannot tear a
// frame on a shared output stream.
type serialSink struct {
	mu    sync.Mutex
	inner Sink
}

func newSerialSink(inner Sink) *serialSink {
	return &serialSink{inner: inner}
}

func (s *serialSink) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Send(event, payload)
}

// StartPayload accompanies the start event.
type StartPayload struct {
	TotalModels        int       `json:"totalModels"`
	ExecutionCount     int       `json:"executionCount"`
	EnableOptimization bool      `json:"enableOptimization"`
	TotalTasks         int       `json:"totalTasks"`
	StartTime          time.Time `json:"startTime"`
}

// ProgressPayload accompanies per-model step events. Execution is 1-based.
type ProgressPayload struct {
	Model     string `json:"model"`
	Execution int    `json:"execution,omitempty"`
}

// ModelCompletePayload accompanies the model-complete event.
type ModelCompletePayload struct {
	Model  string        `json:"model"`
	Result *ModelOutcome `json:"result"`
}

// ModelErrorPayload accompanies the model-error event.
type ModelErrorPayload struct {
	Model string `json:"model"`
	Error string `json:"error"`
}

// CompletePayload accompanies the complete event.
type CompletePayload struct {
	EndTime         time.Time `json:"endTime"`
	TotalDurationMs int64     `json:"totalDurationMs"`
}
