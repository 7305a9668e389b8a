// Package breaker guards outbound LLM calls with per-key circuit breakers.
// Breaker state is process-wide and shared across evaluation runs: a model
// that keeps failing is shielded for every caller, not just the run that
// tripped it.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/promptforge/promptd/utils"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker for
// its key is open. Callers use errors.Is to distinguish it from upstream
// failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures breakers created by a Registry.
type Settings struct {
	// Failures is the consecutive-failure count that trips a breaker open.
	Failures uint32
	// Cooldown is how long a tripped breaker stays open before allowing a
	// single probe call.
	Cooldown time.Duration
}

// DefaultSettings trips after 5 consecutive failures with a 30s cooldown.
func DefaultSettings() Settings {
	return Settings{Failures: 5, Cooldown: 30 * time.Second}
}

// Registry holds one circuit breaker per key (model name). It is safe for
// concurrent use and is injected into workers rather than accessed as global
// state.
type Registry struct {
	mu       sync.Mutex
	settings Settings
	logger   utils.Logger
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewRegistry creates a breaker registry with the given settings.
func NewRegistry(settings Settings, logger utils.Logger) *Registry {
	if settings.Failures == 0 {
		settings.Failures = DefaultSettings().Failures
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultSettings().Cooldown
	}
	return &Registry{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (r *Registry) breakerFor(key string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, exists := r.breakers[key]; exists {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1, // one probe while half-open
		Timeout:     r.settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.settings.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				"key", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[key] = cb
	return cb
}

// Execute runs op under the breaker for key. When the breaker is open it
// fails fast, without invoking op, with an error wrapping ErrCircuitOpen that
// names the key.
func (r *Registry) Execute(key string, op func() (any, error)) (any, error) {
	result, err := r.breakerFor(key).Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.logger.Warn("call blocked by open circuit", "key", key)
		return result, fmt.Errorf("%w for %s", ErrCircuitOpen, key)
	}
	return result, err
}

// State returns the current breaker state for key. Keys that have never been
// used report a closed breaker.
func (r *Registry) State(key string) gobreaker.State {
	return r.breakerFor(key).State()
}

// Do is a typed convenience wrapper around Registry.Execute.
func Do[T any](r *Registry, key string, op func() (T, error)) (T, error) {
	result, err := r.Execute(key, func() (any, error) {
		return op()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	value, ok := result.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("breaker %s: unexpected result type %T", key, result)
	}
	return value, nil
}
