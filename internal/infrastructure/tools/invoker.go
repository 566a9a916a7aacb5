package tools

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// RetryPolicy is the fallback backoff schedule for definitions that leave
// their retry config unset: delay(attempt) = min(initial_delay_ms *
// multiplier^(attempt-1), max_delay_ms).
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelayMs    int
	Multiplier        float64
	MaxDelayMs        int
	PerAttemptTimeout time.Duration
}

// DefaultRetryPolicy matches the platform defaults a tool gets when its
// definition doesn't override them.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:       3,
	InitialDelayMs:    200,
	Multiplier:        2.0,
	MaxDelayMs:        5000,
	PerAttemptTimeout: 30 * time.Second,
}

// circuitState is per-tool-per-run breaker state: after consecutive
// failures reach the definition's threshold, the tool is disabled for the
// rest of the run.
type circuitState struct {
	consecutiveFailures int
	open                bool
}

// CircuitBreaker trips a tool off for the remainder of a run. State is
// keyed by (runID, slug) so breaker state never leaks across runs; the
// trip threshold comes from each Definition's execution config.
type CircuitBreaker struct {
	mu    sync.Mutex
	state map[string]*circuitState
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{state: make(map[string]*circuitState)}
}

func (b *CircuitBreaker) key(runID, slug string) string { return runID + "::" + slug }

func (b *CircuitBreaker) isOpen(runID, slug string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.state[b.key(runID, slug)]
	return ok && s.open
}

func (b *CircuitBreaker) recordSuccess(runID, slug string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, b.key(runID, slug))
}

func (b *CircuitBreaker) recordFailure(runID, slug string, threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.key(runID, slug)
	s, ok := b.state[k]
	if !ok {
		s = &circuitState{}
		b.state[k] = s
	}
	s.consecutiveFailures++
	if threshold > 0 && s.consecutiveFailures >= threshold {
		s.open = true
	}
}

// Reset clears breaker state for a run, called when the run terminates.
func (b *CircuitBreaker) Reset(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := runID + "::"
	for k := range b.state {
		if strings.HasPrefix(k, prefix) {
			delete(b.state, k)
		}
	}
}

// Invoker is the Tool Invocation Layer: input/output schema validation,
// retry with exponential backoff, per-attempt timeout, and a per-run
// circuit breaker, all driven by each Definition's execution config. Its
// Invoke method is what ExecutionContext.InvokeTool is wired to.
type Invoker struct {
	registry *Registry
	defaults RetryPolicy
	breaker  *CircuitBreaker
}

func NewInvoker(registry *Registry, defaults RetryPolicy, breaker *CircuitBreaker) *Invoker {
	if breaker == nil {
		breaker = NewCircuitBreaker()
	}
	return &Invoker{registry: registry, defaults: defaults, breaker: breaker}
}

// Invoke runs slug with input under its definition's execution config.
// Validation failures, unknown/disabled tools, and open breakers return an
// error. A terminal execution failure honors the definition's failure
// policy: fail_fast propagates an error, continue returns a ToolResult
// whose ErrorPayload carries the failure for the agent loop to weigh.
func (inv *Invoker) Invoke(ctx context.Context, runID, slug string, input map[string]interface{}) (*execution.ToolResult, error) {
	def, err := inv.registry.Get(slug)
	if err != nil {
		return nil, err
	}
	if def.Status == StatusDisabled {
		return nil, errors.InvalidState(StatusDisabled, "invoke_tool")
	}
	if inv.breaker.isOpen(runID, slug) {
		return nil, errors.NewDomainError("CIRCUIT_OPEN", "tool "+slug+" disabled after repeated failures", errors.ErrToolFailure).WithDetails("tool", slug)
	}

	if err := ValidateAgainstSchema(input, def.InputSchema); err != nil {
		return nil, errors.NewDomainError("SchemaInvalid", "tool input failed schema validation", err)
	}

	policy := def.retryPolicy(inv.defaults)

	var output map[string]interface{}
	attempts := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(policy.InitialDelayMs) * time.Millisecond
	b.Multiplier = policy.Multiplier
	b.MaxInterval = time.Duration(policy.MaxDelayMs) * time.Millisecond
	boff := backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1))

	opErr := backoff.Retry(func() error {
		attempts++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.PerAttemptTimeout)
			defer cancel()
		}

		out, execErr := def.Implementation.Invoke(attemptCtx, input)
		if execErr != nil {
			return execErr
		}
		output = out
		return nil
	}, boff)

	if opErr != nil {
		inv.breaker.recordFailure(runID, slug, def.Execution.CircuitBreakerThreshold)
		if def.Execution.FailurePolicy == FailurePolicyContinue {
			return &execution.ToolResult{
				AttemptCount: attempts,
				ErrorPayload: map[string]interface{}{
					"error": opErr.Error(),
					"code":  "tool_failure",
					"tool":  slug,
				},
			}, nil
		}
		return nil, errors.ToolFailure(slug, opErr).WithDetails("attempt_count", attempts)
	}

	if err := ValidateAgainstSchema(output, def.OutputSchema); err != nil {
		inv.breaker.recordFailure(runID, slug, def.Execution.CircuitBreakerThreshold)
		return nil, errors.NewDomainError("SchemaInvalid", "tool output failed schema validation", err)
	}

	inv.breaker.recordSuccess(runID, slug)
	return &execution.ToolResult{Output: output, AttemptCount: attempts}, nil
}

// ValidateAgainstSchema performs a minimal required-property check against
// a JSON-schema-shaped map — full keyword validation is out of scope, but
// the required/type checks the compiler itself performs at graph-compile
// time (CodeSchemaInvalid) are mirrored here at call time since tool input
// can be runtime-derived (template interpolation, prior node output).
func ValidateAgainstSchema(input map[string]interface{}, schema map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	var required []string
	switch t := schema["required"].(type) {
	case []string:
		required = t
	case []interface{}: // schemas decoded from JSON arrive this way
		for _, r := range t {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	for _, r := range required {
		if _, ok := input[r]; !ok {
			return errors.InvalidInput(r, "missing required field "+r)
		}
	}
	return nil
}
