// Package kernel wraps one (model, endpoint, credential) triple into a client
// exposing one-shot completion, streaming template invocation and
// structured-output template invocation.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/time/rate"

	"github.com/promptforge/promptd/providers"
	"github.com/promptforge/promptd/utils"
)

// Invoker is the contract the evaluation pipeline depends on.
type Invoker interface {
	Model() string
	// CompletePrompt runs a one-shot completion of raw prompt text.
	CompletePrompt(ctx context.Context, prompt string) (string, error)
	// StreamTemplate renders the named template with args and streams the
	// completion deltas.
	StreamTemplate(ctx context.Context, name string, args map[string]any) (TokenStream, error)
	// CompleteStructured renders the named template and parses the reply
	// into out, constrained by out's JSON schema.
	CompleteStructured(ctx context.Context, name string, args map[string]any, out any) error
}

// Factory builds an Invoker for a model using the caller-supplied credential.
type Factory func(model, credential string) (Invoker, error)

const defaultTimeout = 60 * time.Second

// Client is the HTTP-backed Invoker implementation.
type Client struct {
	model     string
	provider  providers.Provider
	client    *http.Client
	limiter   *rate.Limiter
	logger    utils.Logger
	templates *TemplateSet
	options   map[string]any
}

type Option func(*Client)

// WithProvider overrides the default OpenAI-compatible provider.
func WithProvider(p providers.Provider) Option {
	return func(c *Client) {
		c.provider = p
	}
}

func WithLogger(logger utils.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithRateLimiter bounds the outbound call rate. Nil disables limiting.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

func WithTemplates(templates *TemplateSet) Option {
	return func(c *Client) {
		c.templates = templates
	}
}

// WithGenerationOption sets a provider request option such as temperature.
func WithGenerationOption(key string, value any) Option {
	return func(c *Client) {
		c.options[key] = value
	}
}

// New creates a client for the given model. The default provider speaks the
// OpenAI chat-completions dialect against endpoint with the given credential.
func New(model, endpoint, credential string, opts ...Option) (*Client, error) {
	if model == "" {
		return nil, NewError(ErrorTypeRequest, "model must not be empty", nil)
	}
	c := &Client{
		model:     model,
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    utils.NewLogger(utils.LogLevelWarn),
		templates: DefaultTemplates(),
		options:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.provider == nil {
		c.provider = providers.NewOpenAIProvider(model, endpoint, credential)
	}
	c.provider.SetLogger(c.logger)
	return c, nil
}

func (c *Client) Model() string {
	return c.model
}

// CompletePrompt runs a one-shot completion.
func (c *Client) CompletePrompt(ctx context.Context, prompt string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	c.logger.Debug("completing prompt", "model", c.model, "tokens", CountTokens(c.model, prompt))

	reqBody, err := c.provider.PrepareRequest(prompt, c.options)
	if err != nil {
		return "", NewError(ErrorTypeRequest, "failed to prepare request", err)
	}

	body, err := c.do(ctx, reqBody)
	if err != nil {
		return "", err
	}

	result, err := c.provider.ParseResponse(body)
	if err != nil {
		return "", NewError(ErrorTypeResponse, "failed to parse response", err)
	}
	return result, nil
}

// StreamTemplate renders the named template and opens a streaming completion.
// The caller owns the returned stream and must Close it.
func (c *Client) StreamTemplate(ctx context.Context, name string, args map[string]any) (TokenStream, error) {
	prompt, err := c.templates.Render(name, args)
	if err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.logger.Debug("streaming template", "model", c.model, "template", name)

	reqBody, err := c.provider.PrepareStreamRequest(prompt, c.options)
	if err != nil {
		return nil, NewError(ErrorTypeRequest, "failed to prepare stream request", err)
	}

	resp, err := c.send(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.logger.Error("API error", "model", c.model, "status", resp.StatusCode, "body", string(body))
		return nil, NewError(ErrorTypeAPI, fmt.Sprintf("API error: status code %d", resp.StatusCode), nil)
	}

	return newSSETokenStream(resp.Body, c.provider), nil
}

// CompleteStructured renders the named template, requests a schema-constrained
// reply and unmarshals it into out.
func (c *Client) CompleteStructured(ctx context.Context, name string, args map[string]any, out any) error {
	prompt, err := c.templates.Render(name, args)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}

	schema := jsonschema.Reflect(out)

	var reqBody []byte
	if c.provider.SupportsJSONSchema() {
		reqBody, err = c.provider.PrepareRequestWithSchema(prompt, c.options, schema)
	} else {
		reqBody, err = c.provider.PrepareRequest(appendSchemaToPrompt(prompt, schema), c.options)
	}
	if err != nil {
		return NewError(ErrorTypeRequest, "failed to prepare structured request", err)
	}

	body, err := c.do(ctx, reqBody)
	if err != nil {
		return err
	}

	result, err := c.provider.ParseResponse(body)
	if err != nil {
		return NewError(ErrorTypeResponse, "failed to parse response", err)
	}

	cleaned := CleanResponse(result)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		c.logger.Warn("structured response is not valid JSON", "model", c.model, "template", name, "response", result)
		return NewError(ErrorTypeResponse, "response does not match schema", err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return NewError(ErrorTypeRequest, "rate limiter wait aborted", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, reqBody []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.Endpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewError(ErrorTypeRequest, "failed to create request", err)
	}
	for k, v := range c.provider.Headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(ErrorTypeRequest, "failed to send request", err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, reqBody []byte) ([]byte, error) {
	resp, err := c.send(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(ErrorTypeResponse, "failed to read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error", "model", c.model, "status", resp.StatusCode, "body", string(body))
		return nil, NewError(ErrorTypeAPI, fmt.Sprintf("API error: status code %d", resp.StatusCode), nil)
	}
	return body, nil
}

func appendSchemaToPrompt(prompt string, schema any) string {
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return prompt
	}
	return fmt.Sprintf("%s\n\nProvide your response as JSON matching this schema:\n%s", prompt, string(schemaJSON))
}

// CleanResponse strips markdown code fences and any text surrounding the
// outermost JSON object.
func CleanResponse(response string) string {
	response = strings.TrimPrefix(strings.TrimSpace(response), "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(strings.TrimSpace(response), "```")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end != -1 && end > start {
		response = response[start : end+1]
	}
	return strings.TrimSpace(response)
}
