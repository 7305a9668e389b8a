// Package providers implements the wire-level adapters for upstream LLM
// services. promptd talks to OpenAI-compatible chat-completion endpoints; the
// Provider interface keeps the kernel client independent of any one vendor.
package providers

import "github.com/promptforge/promptd/utils"

// Provider prepares request bodies and parses responses for one upstream API.
type Provider interface {
	Name() string
	Endpoint() string
	Headers() map[string]string
	SetLogger(logger utils.Logger)

	// PrepareRequest builds a one-shot completion request body.
	PrepareRequest(prompt string, options map[string]any) ([]byte, error)
	// PrepareRequestWithSchema builds a request constrained to a JSON schema.
	PrepareRequestWithSchema(prompt string, options map[string]any, schema any) ([]byte, error)
	// PrepareStreamRequest builds a streaming completion request body.
	PrepareStreamRequest(prompt string, options map[string]any) ([]byte, error)

	// ParseResponse extracts the completion text from a full response body.
	ParseResponse(body []byte) (string, error)
	// ParseStreamResponse extracts the text delta from one SSE data chunk.
	// An empty string with nil error means the chunk carried no text.
	ParseStreamResponse(chunk []byte) (string, error)

	SupportsJSONSchema() bool
	SupportsStreaming() bool
}

// Constructor creates a provider bound to a (model, endpoint, credential)
// triple. Each provider implementation registers one of these.
type Constructor func(model, endpoint, apiKey string) Provider
