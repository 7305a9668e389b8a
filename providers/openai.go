package providers

import (
	"encoding/json"
	"fmt"

	"github.com/promptforge/promptd/utils"
)

// OpenAIProvider speaks the OpenAI chat-completions dialect. It also covers
// the compatible endpoints (Groq, DeepSeek, vLLM, OpenRouter) since they share
// the same request and stream-chunk shapes.
type OpenAIProvider struct {
	model    string
	endpoint string
	apiKey   string
	logger   utils.Logger
}

// NewOpenAIProvider creates a provider bound to the given model and endpoint.
func NewOpenAIProvider(model, endpoint, apiKey string) Provider {
	return &OpenAIProvider{
		model:    model,
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   utils.NewLogger(utils.LogLevelWarn),
	}
}

func (p *OpenAIProvider) Name() string                  { return "openai" }
func (p *OpenAIProvider) Endpoint() string              { return p.endpoint }
func (p *OpenAIProvider) SupportsJSONSchema() bool      { return true }
func (p *OpenAIProvider) SupportsStreaming() bool       { return true }
func (p *OpenAIProvider) SetLogger(logger utils.Logger) { p.logger = logger }

func (p *OpenAIProvider) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

func (p *OpenAIProvider) PrepareRequest(prompt string, options map[string]any) ([]byte, error) {
	request := map[string]any{
		"model": p.model,
		"messages": []any{
			map[string]any{"role": "user", "content": prompt},
		},
	}
	for k, v := range options {
		request[k] = v
	}
	return json.Marshal(request)
}

func (p *OpenAIProvider) PrepareRequestWithSchema(prompt string, options map[string]any, schema any) ([]byte, error) {
	request := map[string]any{
		"model": p.model,
		"messages": []any{
			map[string]any{"role": "user", "content": prompt},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": schema,
			},
		},
	}
	for k, v := range options {
		request[k] = v
	}
	return json.Marshal(request)
}

func (p *OpenAIProvider) PrepareStreamRequest(prompt string, options map[string]any) ([]byte, error) {
	streamOptions := make(map[string]any, len(options)+1)
	for k, v := range options {
		streamOptions[k] = v
	}
	streamOptions["stream"] = true
	return p.PrepareRequest(prompt, streamOptions)
}

func (p *OpenAIProvider) ParseResponse(body []byte) (string, error) {
	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return response.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) ParseStreamResponse(chunk []byte) (string, error) {
	var response struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(chunk, &response); err != nil {
		return "", fmt.Errorf("failed to parse stream chunk: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Delta.Content, nil
}
