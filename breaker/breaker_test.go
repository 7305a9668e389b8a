package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptd/utils"
)

func newTestRegistry(failures uint32, cooldown time.Duration) *Registry {
	logger := &utils.MockLogger{}
	logger.On("Warn", mock.Anything, mock.Anything).Return().Maybe()
	return NewRegistry(Settings{Failures: failures, Cooldown: cooldown}, logger)
}

func TestExecutePassesThroughWhenClosed(t *testing.T) {
	r := newTestRegistry(3, time.Minute)

	result, err := Do(r, "m1", func() (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r := newTestRegistry(3, time.Minute)
	boom := errors.New("upstream down")

	for i := 0; i < 3; i++ {
		_, err := Do(r, "m1", func() (string, error) { return "", boom })
		require.ErrorIs(t, err, boom)
	}

	// The next call must fail fast without invoking the operation.
	invoked := false
	_, err := Do(r, "m1", func() (string, error) {
		invoked = true
		return "", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

// An untyped nil result cannot satisfy the assertion back to T; Do must
// surface that instead of returning the zero value with a nil error.
func TestDoRejectsUntypedNilResult(t *testing.T) {
	r := newTestRegistry(3, time.Minute)

	_, err := Do(r, "m1", func() (error, error) { return nil, nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected result type")
}

func TestBreakerKeysAreIndependent(t *testing.T) {
	r := newTestRegistry(1, time.Minute)

	_, err := Do(r, "m1", func() (string, error) { return "", errors.New("bad") })
	require.Error(t, err)
	_, err = Do(r, "m1", func() (string, error) { return "", nil })
	require.ErrorIs(t, err, ErrCircuitOpen)

	// A different key is unaffected.
	result, err := Do(r, "m2", func() (string, error) { return "fine", nil })
	require.NoError(t, err)
	assert.Equal(t, "fine", result)
}

func TestBreakerAllowsSingleProbeAfterCooldown(t *testing.T) {
	r := newTestRegistry(1, 30*time.Millisecond)

	_, err := Do(r, "m1", func() (string, error) { return "", errors.New("bad") })
	require.Error(t, err)
	_, err = Do(r, "m1", func() (string, error) { return "", nil })
	require.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(50 * time.Millisecond)

	// One probe goes through; success closes the breaker again.
	result, err := Do(r, "m1", func() (string, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)

	result, err = Do(r, "m1", func() (string, error) { return "steady", nil })
	require.NoError(t, err)
	assert.Equal(t, "steady", result)
}

func TestProbeFailureReopensBreaker(t *testing.T) {
	r := newTestRegistry(1, 30*time.Millisecond)

	_, err := Do(r, "m1", func() (string, error) { return "", errors.New("bad") })
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = Do(r, "m1", func() (string, error) { return "", errors.New("still bad") })
	require.Error(t, err)

	_, err = Do(r, "m1", func() (string, error) { return "", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
