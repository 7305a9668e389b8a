package providers

import (
	"fmt"
	"sync"
)

// Registry manages provider constructors. It is thread-safe and supports
// dynamic registration, which tests use to inject mocks.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("openai", NewOpenAIProvider)
	r.Register("mock", NewMockProvider)
	return r
}

// Register adds a provider constructor under the given name.
func (r *Registry) Register(name string, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = constructor
}

// Get builds a provider instance for the named dialect.
func (r *Registry) Get(name, model, endpoint, apiKey string) (Provider, error) {
	r.mu.RLock()
	constructor, exists := r.constructors[name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return constructor(model, endpoint, apiKey), nil
}
