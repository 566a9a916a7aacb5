package tools_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/infrastructure/tools"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// scriptedImpl fails its first failUntil calls, then succeeds.
type scriptedImpl struct {
	failUntil int32
	calls     int32
	output    map[string]interface{}
}

func (s *scriptedImpl) Kind() string { return "custom" }
func (s *scriptedImpl) Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if n <= s.failUntil {
		return nil, errors.Timeout("scripted attempt", nil)
	}
	if s.output != nil {
		return s.output, nil
	}
	return map[string]interface{}{"ok": true}, nil
}

func fastRetry(maxAttempts int) tools.RetryConfig {
	return tools.RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialDelayMs:    1,
		MaxDelayMs:        5,
		BackoffMultiplier: 2.0,
	}
}

func fastDefaults() tools.RetryPolicy {
	return tools.RetryPolicy{
		MaxAttempts:       3,
		InitialDelayMs:    1,
		Multiplier:        2.0,
		MaxDelayMs:        5,
		PerAttemptTimeout: time.Second,
	}
}

func newInvoker(t *testing.T, def *tools.Definition, breaker *tools.CircuitBreaker) *tools.Invoker {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(def))
	return tools.NewInvoker(registry, fastDefaults(), breaker)
}

func TestInvoker_RetriesTransientFailures(t *testing.T) {
	t.Run("first attempt times out, second succeeds, attempt count surfaces", func(t *testing.T) {
		impl := &scriptedImpl{failUntil: 1, output: map[string]interface{}{"y": 2}}
		inv := newInvoker(t, &tools.Definition{
			Slug: "flaky", Implementation: impl,
			Execution: tools.ExecutionConfig{Retry: fastRetry(3), TimeoutSeconds: 1},
		}, nil)

		res, err := inv.Invoke(context.Background(), "run-1", "flaky", map[string]interface{}{})

		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"y": 2}, res.Output)
		assert.Equal(t, 2, res.AttemptCount)
		assert.False(t, res.Failed())
	})

	t.Run("exhausting max_attempts under fail_fast surfaces a tool failure", func(t *testing.T) {
		impl := &scriptedImpl{failUntil: 10}
		inv := newInvoker(t, &tools.Definition{
			Slug: "dead", Implementation: impl,
			Execution: tools.ExecutionConfig{Retry: fastRetry(3), FailurePolicy: tools.FailurePolicyFailFast},
		}, nil)

		_, err := inv.Invoke(context.Background(), "run-1", "dead", map[string]interface{}{})

		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrToolFailure))
		assert.Equal(t, int32(3), atomic.LoadInt32(&impl.calls), "exactly max_attempts calls")
	})

	t.Run("the definition's retry config overrides the invoker defaults", func(t *testing.T) {
		impl := &scriptedImpl{failUntil: 10}
		inv := newInvoker(t, &tools.Definition{
			Slug: "one-shot", Implementation: impl,
			Execution: tools.ExecutionConfig{Retry: fastRetry(1), FailurePolicy: tools.FailurePolicyFailFast},
		}, nil)

		_, err := inv.Invoke(context.Background(), "run-1", "one-shot", nil)
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&impl.calls), "definition caps at one attempt despite defaults of three")
	})
}

func TestInvoker_FailurePolicyContinue(t *testing.T) {
	t.Run("terminal failure becomes an error payload, not an error", func(t *testing.T) {
		impl := &scriptedImpl{failUntil: 10}
		inv := newInvoker(t, &tools.Definition{
			Slug: "soft", Implementation: impl,
			Execution: tools.ExecutionConfig{Retry: fastRetry(2), FailurePolicy: tools.FailurePolicyContinue},
		}, nil)

		res, err := inv.Invoke(context.Background(), "run-1", "soft", nil)

		require.NoError(t, err, "continue swallows the failure")
		require.True(t, res.Failed())
		assert.Equal(t, 2, res.AttemptCount)
		assert.Equal(t, "tool_failure", res.ErrorPayload["code"])
		assert.Equal(t, "soft", res.ErrorPayload["tool"])
		assert.NotEmpty(t, res.ErrorPayload["error"])
	})

	t.Run("continue failures still feed the circuit breaker", func(t *testing.T) {
		impl := &scriptedImpl{failUntil: 100}
		breaker := tools.NewCircuitBreaker()
		inv := newInvoker(t, &tools.Definition{
			Slug: "soft", Implementation: impl,
			Execution: tools.ExecutionConfig{Retry: fastRetry(1), FailurePolicy: tools.FailurePolicyContinue, CircuitBreakerThreshold: 2},
		}, breaker)

		for i := 0; i < 2; i++ {
			res, err := inv.Invoke(context.Background(), "run-1", "soft", nil)
			require.NoError(t, err)
			require.True(t, res.Failed())
		}

		_, err := inv.Invoke(context.Background(), "run-1", "soft", nil)
		require.Error(t, err, "an open breaker is a hard error even under continue")
		assert.Contains(t, err.Error(), "CIRCUIT_OPEN")
	})
}

func TestInvoker_SchemaValidation(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"query"},
	}

	t.Run("missing required field fails before any attempt", func(t *testing.T) {
		impl := &scriptedImpl{}
		inv := newInvoker(t, &tools.Definition{Slug: "strict", InputSchema: schema, Implementation: impl}, nil)

		_, err := inv.Invoke(context.Background(), "run-1", "strict", map[string]interface{}{"other": 1})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "SchemaInvalid")
		assert.Equal(t, int32(0), atomic.LoadInt32(&impl.calls), "schema failures never reach the tool")
	})

	t.Run("valid input passes through", func(t *testing.T) {
		inv := newInvoker(t, &tools.Definition{Slug: "strict", InputSchema: schema, Implementation: &scriptedImpl{}}, nil)

		_, err := inv.Invoke(context.Background(), "run-1", "strict", map[string]interface{}{"query": "x"})
		require.NoError(t, err)
	})

	t.Run("output is validated against the output schema", func(t *testing.T) {
		impl := &scriptedImpl{output: map[string]interface{}{"unexpected": true}}
		inv := newInvoker(t, &tools.Definition{
			Slug:           "shaped",
			OutputSchema:   map[string]interface{}{"required": []interface{}{"result"}},
			Implementation: impl,
		}, nil)

		_, err := inv.Invoke(context.Background(), "run-1", "shaped", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SchemaInvalid")
	})

	t.Run("unknown tool is a not found error", func(t *testing.T) {
		inv := newInvoker(t, &tools.Definition{Slug: "known", Implementation: &scriptedImpl{}}, nil)

		_, err := inv.Invoke(context.Background(), "run-1", "unknown", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("a disabled definition refuses to execute", func(t *testing.T) {
		inv := newInvoker(t, &tools.Definition{Slug: "off", Status: tools.StatusDisabled, Implementation: &scriptedImpl{}}, nil)

		_, err := inv.Invoke(context.Background(), "run-1", "off", nil)
		require.Error(t, err)
	})
}

func TestInvoker_CircuitBreaker(t *testing.T) {
	brokenDef := func(threshold int) *tools.Definition {
		return &tools.Definition{
			Slug:           "broken",
			Implementation: &scriptedImpl{failUntil: 100},
			Execution: tools.ExecutionConfig{
				Retry: fastRetry(1), FailurePolicy: tools.FailurePolicyFailFast, CircuitBreakerThreshold: threshold,
			},
		}
	}

	t.Run("opens after the definition's threshold of consecutive failures", func(t *testing.T) {
		def := brokenDef(2)
		impl := def.Implementation.(*scriptedImpl)
		inv := newInvoker(t, def, tools.NewCircuitBreaker())

		_, err := inv.Invoke(context.Background(), "run-1", "broken", nil)
		require.Error(t, err)
		_, err = inv.Invoke(context.Background(), "run-1", "broken", nil)
		require.Error(t, err)

		callsBefore := atomic.LoadInt32(&impl.calls)
		_, err = inv.Invoke(context.Background(), "run-1", "broken", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CIRCUIT_OPEN")
		assert.Equal(t, callsBefore, atomic.LoadInt32(&impl.calls), "an open breaker short-circuits before dispatch")
	})

	t.Run("breaker state is per run", func(t *testing.T) {
		def := brokenDef(1)
		impl := def.Implementation.(*scriptedImpl)
		inv := newInvoker(t, def, tools.NewCircuitBreaker())

		_, err := inv.Invoke(context.Background(), "run-1", "broken", nil)
		require.Error(t, err)

		// run-1's breaker is open; run-2 still dispatches.
		before := atomic.LoadInt32(&impl.calls)
		_, err = inv.Invoke(context.Background(), "run-2", "broken", nil)
		require.Error(t, err)
		assert.Greater(t, atomic.LoadInt32(&impl.calls), before)
	})

	t.Run("a success resets the consecutive failure count", func(t *testing.T) {
		inv := newInvoker(t, &tools.Definition{
			Slug:           "flaky",
			Implementation: &scriptedImpl{failUntil: 1},
			Execution:      tools.ExecutionConfig{Retry: fastRetry(1), FailurePolicy: tools.FailurePolicyFailFast, CircuitBreakerThreshold: 2},
		}, tools.NewCircuitBreaker())

		_, err := inv.Invoke(context.Background(), "run-1", "flaky", nil)
		require.Error(t, err) // failure 1 of 2

		_, err = inv.Invoke(context.Background(), "run-1", "flaky", nil)
		require.NoError(t, err) // success clears the counter

		_, err = inv.Invoke(context.Background(), "run-1", "flaky", nil)
		require.NoError(t, err, "breaker stays closed after the reset")
	})

	t.Run("Reset clears a run's breaker state", func(t *testing.T) {
		breaker := tools.NewCircuitBreaker()
		inv := newInvoker(t, &tools.Definition{
			Slug:           "broken",
			Implementation: &scriptedImpl{failUntil: 2},
			Execution:      tools.ExecutionConfig{Retry: fastRetry(1), FailurePolicy: tools.FailurePolicyFailFast, CircuitBreakerThreshold: 1},
		}, breaker)

		_, err := inv.Invoke(context.Background(), "run-1", "broken", nil)
		require.Error(t, err)

		breaker.Reset("run-1")

		_, err = inv.Invoke(context.Background(), "run-1", "broken", nil)
		require.Error(t, err, "second scripted failure, but dispatched rather than short-circuited")
		assert.NotContains(t, err.Error(), "CIRCUIT_OPEN")
	})
}
