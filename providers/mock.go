package providers

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/promptforge/promptd/utils"
)

// MockProvider implements Provider for tests. It returns preset responses in
// sequence and can be switched into an error mode.
type MockProvider struct {
	mu           sync.Mutex
	model        string
	endpoint     string
	logger       utils.Logger
	responseText string
	responses    []string
	currentIndex int
	loop         bool
	shouldError  bool
	errorMsg     string
}

// NewMockProvider creates a mock provider instance for testing.
func NewMockProvider(model, endpoint, _ string) Provider {
	return &MockProvider{
		model:        model,
		endpoint:     endpoint,
		logger:       utils.NewLogger(utils.LogLevelOff),
		responseText: "mock response",
	}
}

// SetMockResponse sets the fallback response text.
func (p *MockProvider) SetMockResponse(response string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responseText = response
}

// SetResponses queues responses returned in order by ParseResponse.
func (p *MockProvider) SetResponses(responses []string, loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = responses
	p.currentIndex = 0
	p.loop = loop
}

// SetMockError switches the provider into error mode.
func (p *MockProvider) SetMockError(shouldError bool, errorMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldError = shouldError
	p.errorMsg = errorMsg
}

func (p *MockProvider) Name() string                  { return "mock" }
func (p *MockProvider) Endpoint() string              { return p.endpoint }
func (p *MockProvider) SupportsJSONSchema() bool      { return true }
func (p *MockProvider) SupportsStreaming() bool       { return true }
func (p *MockProvider) SetLogger(logger utils.Logger) { p.logger = logger }

func (p *MockProvider) Headers() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

func (p *MockProvider) PrepareRequest(prompt string, options map[string]any) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shouldError {
		return nil, errors.New(p.errorMsg)
	}
	request := map[string]any{"model": p.model, "prompt": prompt}
	for k, v := range options {
		request[k] = v
	}
	return json.Marshal(request)
}

func (p *MockProvider) PrepareRequestWithSchema(prompt string, options map[string]any, _ any) ([]byte, error) {
	return p.PrepareRequest(prompt, options)
}

func (p *MockProvider) PrepareStreamRequest(prompt string, options map[string]any) ([]byte, error) {
	return p.PrepareRequest(prompt, options)
}

func (p *MockProvider) ParseResponse(_ []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shouldError {
		return "", errors.New(p.errorMsg)
	}
	return p.nextResponse()
}

func (p *MockProvider) ParseStreamResponse(chunk []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shouldError {
		return "", errors.New(p.errorMsg)
	}
	return string(chunk), nil
}

func (p *MockProvider) nextResponse() (string, error) {
	if len(p.responses) == 0 {
		return p.responseText, nil
	}
	if p.currentIndex >= len(p.responses) {
		if !p.loop {
			return "", errors.New("mock responses exhausted")
		}
		p.currentIndex = 0
	}
	response := p.responses[p.currentIndex]
	p.currentIndex++
	return response, nil
}
