package evaluation

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptd/auth"
	"github.com/promptforge/promptd/breaker"
	"github.com/promptforge/promptd/kernel"
	"github.com/promptforge/promptd/utils"
)

type stubStream struct {
	tokens []string
	index  int
}

func (s *stubStream) Next(_ context.Context) (*kernel.StreamToken, error) {
	if s.index >= len(s.tokens) {
		return nil, io.EOF
	}
	token := &kernel.StreamToken{Text: s.tokens[s.index], Index: s.index}
	s.index++
	return token, nil
}

func (s *stubStream) Close() error { return nil }

// fakeClient is a deterministic kernel.Invoker. Scoring replies come from the
// scores queue (last entry repeats when exhausted).
type fakeClient struct {
	mu            sync.Mutex
	model         string
	output        string
	completeErr   error
	completeCalls int
	streamTokens  []string
	scores        []int
	scoreIdx      int
	structuredErr error
	tags          []string
}

func newFakeClient(model string) *fakeClient {
	return &fakeClient{
		model:        model,
		output:       "model output",
		streamTokens: []string{"<output>analysis</output>"},
		scores:       []int{80},
		tags:         []string{"clarity"},
	}
}

func (f *fakeClient) Model() string { return f.model }

func (f *fakeClient) CompletePrompt(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.output, nil
}

func (f *fakeClient) StreamTemplate(_ context.Context, _ string, _ map[string]any) (kernel.TokenStream, error) {
	return &stubStream{tokens: f.streamTokens}, nil
}

func (f *fakeClient) CompleteStructured(_ context.Context, _ string, _ map[string]any, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.structuredErr != nil {
		return f.structuredErr
	}
	record, ok := out.(*ScoreRecord)
	if !ok {
		return errors.New("unexpected output type")
	}
	score := f.scores[len(f.scores)-1]
	if f.scoreIdx < len(f.scores) {
		score = f.scores[f.scoreIdx]
	}
	f.scoreIdx++
	*record = ScoreRecord{
		Description: "graded",
		Score:       score,
		Comment:     "looks fine",
		Tags:        f.tags,
	}
	return nil
}

type fixture struct {
	clients  map[string]*fakeClient
	breakers *breaker.Registry
	coord    *Coordinator
	store    *fakeStore
}

type fakeStore struct {
	mu      sync.Mutex
	appends int
	lastUID string
	err     error
}

func (s *fakeStore) Append(_ context.Context, userID string, _ *Summary) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.appends++
	s.lastUID = userID
	return "record-id", nil
}

func newFixture(t *testing.T, models ...string) *fixture {
	t.Helper()
	logger := &utils.MockLogger{}
	logger.On("Debug", mock.Anything, mock.Anything).Return().Maybe()
	logger.On("Info", mock.Anything, mock.Anything).Return().Maybe()
	logger.On("Warn", mock.Anything, mock.Anything).Return().Maybe()
	logger.On("Error", mock.Anything, mock.Anything).Return().Maybe()

	clients := make(map[string]*fakeClient)
	for _, model := range models {
		clients[model] = newFakeClient(model)
	}
	clients["grader"] = newFakeClient("grader")

	factory := func(model, _ string) (kernel.Invoker, error) {
		if client, exists := clients[model]; exists {
			return client, nil
		}
		return nil, errors.New("unknown model: " + model)
	}

	breakers := breaker.NewRegistry(breaker.Settings{Failures: 2, Cooldown: time.Minute}, logger)
	store := &fakeStore{}
	coord, err := NewCoordinator(factory, breakers, 4,
		WithLogger(logger),
		WithScoringModel("grader"),
		WithStore(store),
	)
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	return &fixture{clients: clients, breakers: breakers, coord: coord, store: store}
}

func baseRequest(models ...string) Request {
	return Request{
		Models:         models,
		Prompt:         "original prompt",
		Request:        "summarize this",
		ExecutionCount: 1,
		Credential:     "sk-test",
	}
}

// Scenario A: two models, one execution, no optimization.
func TestRunTwoModelsSingleExecution(t *testing.T) {
	f := newFixture(t, "m1", "m2")

	summary, err := f.coord.Run(context.Background(), baseRequest("m1", "m2"))
	require.NoError(t, err)

	require.Len(t, summary.PerModel, 2)
	for _, model := range []string{"m1", "m2"} {
		outcome := summary.PerModel[model]
		require.NotNil(t, outcome)
		assert.Equal(t, 80, outcome.Score)
		assert.Equal(t, 1, outcome.ExecutionCount)
		// Single executions carry no repeated-execution array.
		assert.Nil(t, outcome.ExecutionResults)
	}
}

// Scenario B: repeated executions aggregate into average and best.
func TestRunRepeatedExecutions(t *testing.T) {
	f := newFixture(t, "m1")
	f.clients["grader"].scores = []int{60, 90, 75}

	req := baseRequest("m1")
	req.ExecutionCount = 3

	summary, err := f.coord.Run(context.Background(), req)
	require.NoError(t, err)

	outcome := summary.PerModel["m1"]
	require.NotNil(t, outcome)
	assert.Equal(t, 75, outcome.Score)
	require.NotNil(t, outcome.BestResult)
	assert.Equal(t, 90, outcome.BestResult.Score)
	assert.Len(t, outcome.ExecutionResults, 3)
}

// Scenario C: an open breaker short-circuits the worker before any client
// call.
func TestRunWithOpenBreaker(t *testing.T) {
	f := newFixture(t, "m1")

	// Trip m1's breaker (threshold 2).
	for i := 0; i < 2; i++ {
		_, err := f.breakers.Execute("m1", func() (any, error) { return nil, errors.New("down") })
		require.Error(t, err)
	}

	summary, err := f.coord.Run(context.Background(), baseRequest("m1"))
	require.NoError(t, err)

	outcome := summary.PerModel["m1"]
	require.NotNil(t, outcome)
	assert.Equal(t, 0, outcome.Score)
	assert.Contains(t, outcome.Description, "circuit breaker")
	assert.Zero(t, f.clients["m1"].completeCalls)
}

// Scenario D: duplicates and empty entries are normalized away.
func TestNormalizeModels(t *testing.T) {
	req := Request{Models: []string{"m1", "", "m1", "m2"}, ExecutionCount: 0}
	normalized := req.Normalize()
	assert.Equal(t, []string{"m1", "m2"}, normalized.Models)
	assert.Equal(t, 1, normalized.ExecutionCount)
}

func TestRunNormalizesBeforeDispatch(t *testing.T) {
	f := newFixture(t, "m1", "m2")

	req := baseRequest("m1", "", "m1", "m2")
	summary, err := f.coord.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalModels)
	assert.Len(t, summary.PerModel, 2)
}

// Scenario E: relative event order for one model with optimization enabled.
func TestStreamingEventOrder(t *testing.T) {
	f := newFixture(t, "m1")

	var mu sync.Mutex
	var events []string
	sink := SinkFunc(func(event string, _ any) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
		return nil
	})

	req := baseRequest("m1")
	req.EnableOptimization = true
	_, err := f.coord.RunStreaming(context.Background(), req, sink)
	require.NoError(t, err)

	expected := []string{
		EventStart,
		EventModelStart,
		EventOptimizeStart,
		EventOptimizeComplete,
		EventExecuteOriginal,
		EventExecuteOptimized,
		EventScoring,
		EventModelComplete,
		EventComplete,
	}
	assert.Equal(t, expected, events)
}

func TestUnknownModelYieldsErrorEntry(t *testing.T) {
	f := newFixture(t, "m1")

	var mu sync.Mutex
	var errorEvents int
	sink := SinkFunc(func(event string, _ any) error {
		mu.Lock()
		defer mu.Unlock()
		if event == EventModelError {
			errorEvents++
		}
		return nil
	})

	summary, err := f.coord.RunStreaming(context.Background(), baseRequest("m1", "ghost"), sink)
	require.NoError(t, err)

	// Every requested model yields exactly one entry, success or error.
	require.Len(t, summary.PerModel, 2)
	assert.Equal(t, 80, summary.PerModel["m1"].Score)
	assert.Equal(t, 0, summary.PerModel["ghost"].Score)
	assert.Contains(t, summary.PerModel["ghost"].Description, "unknown model")
	assert.Equal(t, 1, errorEvents)
}

func TestOutOfRangeScoreIsClamped(t *testing.T) {
	f := newFixture(t, "m1")
	f.clients["grader"].scores = []int{150}

	summary, err := f.coord.Run(context.Background(), baseRequest("m1"))
	require.NoError(t, err)
	assert.Equal(t, 100, summary.PerModel["m1"].Score)
}

func TestMalformedScoringReplyDefaultsToZero(t *testing.T) {
	f := newFixture(t, "m1")
	f.clients["grader"].structuredErr = kernel.NewError(kernel.ErrorTypeResponse, "response does not match schema", nil)

	summary, err := f.coord.Run(context.Background(), baseRequest("m1"))
	require.NoError(t, err)

	outcome := summary.PerModel["m1"]
	require.NotNil(t, outcome)
	assert.Equal(t, 0, outcome.Score)
	assert.Equal(t, 1, outcome.ExecutionCount)
}

// Malformed scoring replies are successful upstream calls: repeated rounds
// must all degrade to zero scores without opening the scoring breaker.
func TestMalformedScoringRepliesDoNotTripBreaker(t *testing.T) {
	f := newFixture(t, "m1")
	f.clients["grader"].structuredErr = kernel.NewError(kernel.ErrorTypeResponse, "response does not match schema", nil)

	req := baseRequest("m1")
	req.ExecutionCount = 3

	summary, err := f.coord.Run(context.Background(), req)
	require.NoError(t, err)

	outcome := summary.PerModel["m1"]
	require.NotNil(t, outcome)
	assert.Equal(t, 0, outcome.Score)
	assert.Equal(t, 3, outcome.ExecutionCount)
	assert.Len(t, outcome.ExecutionResults, 3)
	assert.Equal(t, gobreaker.StateClosed, f.breakers.State("grader"))
}

func TestScoringBreakerAbortNamesScoringModel(t *testing.T) {
	f := newFixture(t, "m1")

	// Trip the scoring model's breaker (threshold 2), not the chat model's.
	for i := 0; i < 2; i++ {
		_, err := f.breakers.Execute("grader", func() (any, error) { return nil, errors.New("down") })
		require.Error(t, err)
	}

	summary, err := f.coord.Run(context.Background(), baseRequest("m1"))
	require.NoError(t, err)

	outcome := summary.PerModel["m1"]
	require.NotNil(t, outcome)
	assert.Equal(t, 0, outcome.Score)
	assert.Contains(t, outcome.Description, "circuit breaker is open for grader")
}

func TestModelFailureDoesNotAbortOthers(t *testing.T) {
	f := newFixture(t, "m1", "m2")
	f.clients["m1"].completeErr = errors.New("boom")

	summary, err := f.coord.Run(context.Background(), baseRequest("m1", "m2"))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.PerModel["m1"].Score)
	assert.Contains(t, summary.PerModel["m1"].Description, "boom")
	assert.Equal(t, 80, summary.PerModel["m2"].Score)
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Run(context.Background(), Request{Models: []string{""}, Prompt: "p", Request: "r", Credential: "c"})
	assert.Error(t, err)

	_, err = f.coord.Run(context.Background(), Request{Models: []string{"m1"}, Prompt: "p", Request: "r"})
	assert.Error(t, err)
}

func TestCancelledRunIsDiscarded(t *testing.T) {
	f := newFixture(t, "m1")

	ctx, cancel := context.WithCancel(auth.WithIdentity(context.Background(), &auth.Identity{UserID: "u-1"}))
	cancel()

	_, err := f.coord.Run(ctx, baseRequest("m1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.store.appends)
}

func TestPersistenceRequiresIdentity(t *testing.T) {
	f := newFixture(t, "m1")

	_, err := f.coord.Run(context.Background(), baseRequest("m1"))
	require.NoError(t, err)
	assert.Zero(t, f.store.appends)

	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UserID: "u-1", UserName: "ada"})
	_, err = f.coord.Run(ctx, baseRequest("m1"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.appends)
	assert.Equal(t, "u-1", f.store.lastUID)
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, "m1")
	f.store.err = errors.New("store unavailable")

	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UserID: "u-1"})
	summary, err := f.coord.Run(ctx, baseRequest("m1"))
	require.NoError(t, err)
	require.NotNil(t, summary)
}

// Identical inputs produce identical scores but distinct run records.
func TestRepeatedRunsAreIndependent(t *testing.T) {
	f := newFixture(t, "m1")

	first, err := f.coord.Run(context.Background(), baseRequest("m1"))
	require.NoError(t, err)
	second, err := f.coord.Run(context.Background(), baseRequest("m1"))
	require.NoError(t, err)

	assert.Equal(t, first.PerModel["m1"].Score, second.PerModel["m1"].Score)
	assert.NotEqual(t, first.ID, second.ID)
}
