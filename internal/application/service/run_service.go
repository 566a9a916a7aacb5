// Package service provides application services — the use-case layer that
// sits between the HTTP handlers and the domain/infrastructure packages.
package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentkernel/agentkernel/internal/domain/agent"
	"github.com/agentkernel/agentkernel/internal/domain/checkpoint"
	domainexec "github.com/agentkernel/agentkernel/internal/domain/execution"
	"github.com/agentkernel/agentkernel/internal/domain/humanloop"
	"github.com/agentkernel/agentkernel/internal/domain/run"
	"github.com/agentkernel/agentkernel/internal/infrastructure/graph"
	"github.com/agentkernel/agentkernel/internal/infrastructure/streaming"
	"github.com/agentkernel/agentkernel/internal/infrastructure/tools"
	"github.com/agentkernel/agentkernel/internal/pkg/errors"
)

// Kernel is the narrow slice of the Orchestration Kernel RunService needs:
// an ExecutionContext factory for wiring spawn_run/spawn_group/join/
// cancel_subtree into a run's executor callbacks.
type Kernel interface {
	ExecutionContext(tenantID, runID string, depth int) domainexec.ExecutionContext
}

// QueueRegistry hands RunService a run's BoundedQueue so a streaming
// handler can subscribe to the same queue the Emitter writes to.
type QueueRegistry interface {
	Register(runID string, q *streaming.BoundedQueue)
	Get(runID string) (*streaming.BoundedQueue, bool)
	Delete(runID string)
}

// RunService drives Runs through the Graph Compiler and Engine: start,
// resume, and cancel, wiring each run's ExecutionContext from the Tool
// Invocation Layer and the Orchestration Kernel (SPEC_FULL.md §4).
type RunService struct {
	runRepo        run.Repository
	agentRepo      agent.Repository
	interruptRepo  humanloop.Repository
	checkpointRepo checkpoint.Repository
	engine         *graph.Engine
	invoker        *tools.Invoker
	kernel         Kernel
	queues         QueueRegistry
	catalog        *graph.Catalog
}

// NewRunService wires a RunService against its repositories and the
// infrastructure layers every Run execution needs.
func NewRunService(
	runRepo run.Repository,
	agentRepo agent.Repository,
	interruptRepo humanloop.Repository,
	checkpointRepo checkpoint.Repository,
	engine *graph.Engine,
	invoker *tools.Invoker,
	kernel Kernel,
	queues QueueRegistry,
	catalog *graph.Catalog,
) *RunService {
	return &RunService{
		runRepo:        runRepo,
		agentRepo:      agentRepo,
		interruptRepo:  interruptRepo,
		checkpointRepo: checkpointRepo,
		engine:         engine,
		invoker:        invoker,
		kernel:         kernel,
		queues:         queues,
		catalog:        catalog,
	}
}

// CreateRun creates a root Run for the given tenant/agent and input,
// without starting it — callers that want start_run's synchronous
// semantics should follow with ExecuteRun.
func (s *RunService) CreateRun(ctx context.Context, tenantID, agentID string, input map[string]interface{}) (*run.Run, error) {
	def, err := s.agentRepo.FindByID(ctx, agentID)
	if err != nil {
		return nil, errors.NotFound("agent", agentID)
	}

	r, err := run.NewRun(tenantID, def.ID(), def.Version(), input)
	if err != nil {
		return nil, err
	}
	if err := s.runRepo.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ExecuteRun drives runID's graph from its entry node (or, if paused, from
// its checkpointed node) to a terminal or paused status. It is safe to call
// from the synchronous start_run path or from a background goroutine spawned
// by the Orchestration Kernel for a child run. Events are pushed to a
// throwaway queue — callers that need to observe the stream should use
// RunAndStream instead.
func (s *RunService) ExecuteRun(ctx context.Context, runID string) error {
	return s.executeRunWithQueue(ctx, runID, streaming.NewBoundedQueue(runID, 0), nil)
}

// RunAndStream registers runID's event queue before execution starts and
// drives the run on a background goroutine, so a caller can begin reading
// the returned queue's channel immediately and never miss an early event
// (SPEC_FULL.md §6, run_and_stream).
func (s *RunService) RunAndStream(ctx context.Context, runID string) *streaming.BoundedQueue {
	queue := streaming.NewBoundedQueue(runID, 0)
	if s.queues != nil {
		s.queues.Register(runID, queue)
	}
	go func() {
		_ = s.executeRunWithQueue(context.Background(), runID, queue, nil)
		queue.Close()
		if s.queues != nil {
			s.queues.Delete(runID)
		}
	}()
	return queue
}

func (s *RunService) executeRunWithQueue(ctx context.Context, runID string, queue *streaming.BoundedQueue, resumePayload map[string]interface{}) error {
	r, err := s.runRepo.FindByID(ctx, runID)
	if err != nil {
		return errors.NotFound("run", runID)
	}

	def, err := s.resolveAgent(ctx, r)
	if err != nil {
		return err
	}

	defGraph := def.Graph()
	wf, issues, err := graph.Compile(def.ID(), def.Version(), &defGraph, s.catalog)
	if err != nil {
		return errors.NewDomainError("GRAPH_COMPILE_FAILED", "graph failed to compile", err).WithDetails("issues", issues)
	}

	state := domainexec.NewState(r.Input())
	resumeFrom := ""

	if r.Status() == run.StatusPaused {
		resumeFrom = r.CheckpointRef()
		if s.checkpointRepo != nil {
			if cp, cpErr := s.checkpointRepo.FindLatest(ctx, runID, ""); cpErr == nil && cp != nil {
				state = domainexec.FromMap(cp.StateValues())
			}
		}
		for k, v := range resumePayload {
			state.Vars[k] = v
		}
		if err := r.Resume(resumePayload); err != nil {
			return err
		}
	} else {
		if err := r.Start(); err != nil {
			return err
		}
	}
	if err := s.runRepo.Update(ctx, r); err != nil {
		return err
	}

	emitter := streaming.NewEmitter(queue)

	// One span per engine drive; its id travels on every ExecutionEvent the
	// run's executors emit, so traces and the event stream correlate.
	spanCtx, span := otel.Tracer("agentkernel/run").Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("agent.id", def.ID()),
	))
	defer span.End()

	execCtx := s.kernel.ExecutionContext(r.TenantID(), runID, r.Depth())
	execCtx.RunID = runID
	execCtx.AgentID = def.ID()
	execCtx.Emitter = emitter
	execCtx.IsCancelled = r.IsCancelled
	execCtx.SpanID = span.SpanContext().SpanID().String()
	execCtx.InvokeTool = func(ctx context.Context, toolName string, input map[string]interface{}) (*domainexec.ToolResult, error) {
		return s.invoker.Invoke(ctx, runID, toolName, input)
	}

	result, err := s.engine.Run(graph.WithExecutionContext(spanCtx, &execCtx), runID, wf, state, resumeFrom)
	if err != nil {
		_ = r.Fail(err.Error())
		return s.runRepo.Update(ctx, r)
	}

	return s.applyResult(ctx, r, result)
}

// applyResult reconciles the Engine's RunResult with the Run aggregate's
// own state machine (SPEC_FULL.md §4.3/§9).
func (s *RunService) applyResult(ctx context.Context, r *run.Run, result *domainexec.RunResult) error {
	switch result.Status {
	case "completed":
		if err := r.Complete(result.FinalOutput); err != nil {
			return err
		}
	case "paused":
		r.SetCheckpointRef(result.PausedAt)
		if err := r.Pause(result.PausedAt); err != nil {
			return err
		}
		reason := humanloop.ReasonInputNeeded
		if result.PausedNodeType == "user_approval" {
			reason = humanloop.ReasonApprovalRequired
		}
		interrupt, err := humanloop.NewInterrupt(r.ID(), result.PausedAt, reason, "", stateToMap(result.FinalState))
		if err == nil {
			_ = s.interruptRepo.Save(ctx, interrupt)
		}
	case "failed":
		if err := r.Fail(result.ErrorMsg); err != nil {
			return err
		}
	case "cancelled":
		if r.Status() != run.StatusCancelled {
			if err := r.Cancel("engine observed cancellation flag"); err != nil {
				return err
			}
		}
	}
	return s.runRepo.Update(ctx, r)
}

// ResumeRun applies a resume payload to the run's unresolved interrupt and
// re-enters ExecuteRun from the checkpointed node.
func (s *RunService) ResumeRun(ctx context.Context, runID string, payload map[string]interface{}) error {
	r, err := s.runRepo.FindByID(ctx, runID)
	if err != nil {
		return errors.NotFound("run", runID)
	}
	if r.Status() != run.StatusPaused {
		return errors.InvalidState(string(r.Status()), "resume_run")
	}

	unresolved, err := s.interruptRepo.FindUnresolvedByRunID(ctx, runID)
	if err == nil {
		for _, in := range unresolved {
			_ = in.Resolve(payload)
			_ = s.interruptRepo.Update(ctx, in)
		}
	}

	return s.executeRunWithQueue(ctx, runID, streaming.NewBoundedQueue(runID, 0), payload)
}

// CancelRun requests cooperative cancellation of a single run (not its
// subtree — callers wanting subtree-wide cancellation should go through the
// Orchestration Kernel's CancelSubtree instead).
func (s *RunService) CancelRun(ctx context.Context, runID, reason string) error {
	r, err := s.runRepo.FindByID(ctx, runID)
	if err != nil {
		return errors.NotFound("run", runID)
	}

	r.RequestCancellation()
	if r.Status() == run.StatusQueued || r.Status() == run.StatusPaused {
		if err := r.Cancel(reason); err != nil {
			return err
		}
	}
	return s.runRepo.Update(ctx, r)
}

func (s *RunService) resolveAgent(ctx context.Context, r *run.Run) (*agent.AgentDefinition, error) {
	if r.AgentVersion() != "" {
		def, err := s.agentRepo.FindByIDAndVersion(ctx, r.AgentID(), r.AgentVersion())
		if err == nil {
			return def, nil
		}
	}
	return s.agentRepo.FindByID(ctx, r.AgentID())
}

func stateToMap(s *domainexec.State) map[string]interface{} {
	if s == nil {
		return nil
	}
	return map[string]interface{}{
		"vars":              s.Vars,
		"context":           s.Context,
		"node_outputs":      s.NodeOutputs,
		"last_agent_output": s.LastAgentOutput,
	}
}
