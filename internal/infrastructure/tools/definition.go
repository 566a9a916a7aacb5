package tools

import (
	"context"
	"time"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// FailurePolicy decides what a terminal tool failure does to the calling
// node: fail_fast propagates to the Engine, continue hands the agent loop
// an error payload and lets it decide.
type FailurePolicy string

const (
	FailurePolicyFailFast FailurePolicy = "fail_fast"
	FailurePolicyContinue FailurePolicy = "continue"
)

// RetryConfig is a tool's exponential backoff schedule:
// delay(attempt) = min(initial_delay_ms * multiplier^(attempt-1), max_delay_ms).
type RetryConfig struct {
	MaxAttempts       int
	InitialDelayMs    int
	MaxDelayMs        int
	BackoffMultiplier float64
}

// ExecutionConfig bounds one tool's invocations: per-attempt timeout,
// retry schedule, failure policy, and the consecutive-failure count that
// trips its per-run circuit breaker.
type ExecutionConfig struct {
	TimeoutSeconds          int
	Retry                   RetryConfig
	FailurePolicy           FailurePolicy
	CircuitBreakerThreshold int
}

// Tool definition statuses.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Implementation is the callable behind a Definition. Kind names the
// implementation variant: builtin, http, rag_retrieval, artifact, custom.
type Implementation interface {
	Kind() string
	Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// ImplementationFunc adapts a plain function into an Implementation, for
// the custom/artifact variants that are registered per deployment rather
// than shipped as types.
func ImplementationFunc(kind string, fn func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)) Implementation {
	return funcImpl{kind: kind, fn: fn}
}

type funcImpl struct {
	kind string
	fn   func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

func (f funcImpl) Kind() string { return f.kind }
func (f funcImpl) Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f.fn(ctx, input)
}

// Definition is the contract-first tool record the Invoker executes
// against: schemas on both sides of the call and the execution bounds,
// versioned and individually disableable.
type Definition struct {
	Slug         string
	Description  string
	Status       string
	Version      string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}

	Implementation Implementation
	Execution      ExecutionConfig
}

// validate fills defaults and rejects definitions the Invoker could not
// execute.
func (d *Definition) validate() error {
	if d.Slug == "" {
		return errors.InvalidInput("slug", "tool slug is required")
	}
	if d.Implementation == nil {
		return errors.InvalidInput("implementation", "tool "+d.Slug+" has no implementation")
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	if d.Version == "" {
		d.Version = "1"
	}
	if d.Execution.FailurePolicy == "" {
		d.Execution.FailurePolicy = FailurePolicyFailFast
	}
	if d.Execution.CircuitBreakerThreshold <= 0 {
		d.Execution.CircuitBreakerThreshold = 3
	}
	return nil
}

// retryPolicy lowers a definition's execution config onto the Invoker's
// schedule, falling back to defaults for unset fields.
func (d *Definition) retryPolicy(defaults RetryPolicy) RetryPolicy {
	p := defaults
	if d.Execution.Retry.MaxAttempts > 0 {
		p.MaxAttempts = d.Execution.Retry.MaxAttempts
	}
	if d.Execution.Retry.InitialDelayMs > 0 {
		p.InitialDelayMs = d.Execution.Retry.InitialDelayMs
	}
	if d.Execution.Retry.MaxDelayMs > 0 {
		p.MaxDelayMs = d.Execution.Retry.MaxDelayMs
	}
	if d.Execution.Retry.BackoffMultiplier > 0 {
		p.Multiplier = d.Execution.Retry.BackoffMultiplier
	}
	if d.Execution.TimeoutSeconds > 0 {
		p.PerAttemptTimeout = time.Duration(d.Execution.TimeoutSeconds) * time.Second
	}
	return p
}
