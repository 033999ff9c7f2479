package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notifyx/notifyx/internal/application/events"
	"github.com/notifyx/notifyx/internal/domain"
)

// Config holds engine tuning knobs.
type Config struct {
	MaxParallelNodes     int
	DefaultNodeTimeout   time.Duration
	RunTimeout           time.Duration
	DefaultMaxIterations int
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallelNodes:     10,
		DefaultNodeTimeout:   5 * time.Minute,
		RunTimeout:           30 * time.Minute,
		DefaultMaxIterations: 100,
	}
}

// Engine executes workflow runs: topological scheduling with per-node
// retries, branch conditions, loops, sub-workflows and cooperative
// cancellation. Run state is mutated by the run's own goroutines only
// and serialised behind a per-run lock.
type Engine struct {
	workflows   domain.WorkflowRepository
	runs        domain.RunRepository
	bus         *events.Bus
	adapters    *AdapterRegistry
	credentials CredentialSource
	config      Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine creates a workflow engine. credentials may be nil when no
// node uses credential references.
func NewEngine(
	workflows domain.WorkflowRepository,
	runs domain.RunRepository,
	bus *events.Bus,
	adapters *AdapterRegistry,
	credentials CredentialSource,
	config Config,
) *Engine {
	if config.MaxParallelNodes <= 0 {
		config.MaxParallelNodes = DefaultConfig().MaxParallelNodes
	}
	if config.DefaultNodeTimeout <= 0 {
		config.DefaultNodeTimeout = DefaultConfig().DefaultNodeTimeout
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultConfig().RunTimeout
	}
	if config.DefaultMaxIterations <= 0 {
		config.DefaultMaxIterations = DefaultConfig().DefaultMaxIterations
	}
	return &Engine{
		workflows:   workflows,
		runs:        runs,
		bus:         bus,
		adapters:    adapters,
		credentials: credentials,
		config:      config,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// StartRun creates a run and executes it in the background, returning
// the run in Pending state.
func (e *Engine) StartRun(
	ctx context.Context,
	w domain.Workflow,
	input map[string]any,
	mode, triggeredBy string,
) (domain.WorkflowRun, error) {
	run := e.newRun(w, input, mode, triggeredBy)
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return domain.WorkflowRun{}, err
	}
	e.bus.Publish(domain.RunEventCreated, w.TenantID, w.ID, run.ID, "", nil)

	go func() {
		if _, err := e.executeRun(context.Background(), w, run); err != nil {
			log.Error().Err(err).
				Str("run_id", run.ID).
				Str("workflow_id", w.ID).
				Str("tenant_id", w.TenantID).
				Msg("run finished with error")
		}
	}()
	return run, nil
}

// Execute creates a run and executes it synchronously.
func (e *Engine) Execute(
	ctx context.Context,
	w domain.Workflow,
	input map[string]any,
	mode, triggeredBy string,
) (domain.WorkflowRun, error) {
	run := e.newRun(w, input, mode, triggeredBy)
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return domain.WorkflowRun{}, err
	}
	e.bus.Publish(domain.RunEventCreated, w.TenantID, w.ID, run.ID, "", nil)
	return e.executeRun(ctx, w, run)
}

// Replay re-executes an existing run from the beginning under a fresh
// run id, optionally overriding the input.
func (e *Engine) Replay(
	ctx context.Context,
	tenantID, runID string,
	overrideInput map[string]any,
) (domain.WorkflowRun, error) {
	original, err := e.runs.GetRun(ctx, tenantID, runID)
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	w, err := e.workflows.Get(ctx, tenantID, original.WorkflowID)
	if err != nil {
		return domain.WorkflowRun{}, err
	}
	input := overrideInput
	if input == nil {
		input = original.Input
	}
	return e.StartRun(ctx, w, input, "replay", "replay:"+runID)
}

// Cancel requests cooperative cancellation of a running run.
func (e *Engine) Cancel(runID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (e *Engine) newRun(w domain.Workflow, input map[string]any, mode, triggeredBy string) domain.WorkflowRun {
	return domain.WorkflowRun{
		ID:          uuid.NewString(),
		WorkflowID:  w.ID,
		TenantID:    w.TenantID,
		Status:      domain.RunStatusPending,
		Mode:        mode,
		Input:       input,
		StartTime:   time.Now(),
		TriggeredBy: triggeredBy,
	}
}

// runState is the mutable execution state of one run.
type runState struct {
	mu        sync.Mutex
	vars      map[string]any
	outputs   map[string]map[string]any
	status    map[string]domain.NodeRunStatus
	edgeTaken map[string]bool
	failure   error
	stopped   bool
}

func newRunState(w domain.Workflow, input map[string]any) *runState {
	vars := make(map[string]any, len(w.Globals)+len(input))
	for k, v := range w.Globals {
		vars[k] = v
	}
	for k, v := range input {
		vars[k] = v
	}
	return &runState{
		vars:      vars,
		outputs:   make(map[string]map[string]any),
		status:    make(map[string]domain.NodeRunStatus),
		edgeTaken: make(map[string]bool),
	}
}

func (s *runState) snapshotVars() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

func (s *runState) stop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		s.failure = err
	}
	s.stopped = true
}

// executeRun drives one run to a terminal state.
func (e *Engine) executeRun(ctx context.Context, w domain.Workflow, run domain.WorkflowRun) (domain.WorkflowRun, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.config.RunTimeout)
	e.mu.Lock()
	e.cancels[run.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, run.ID)
		e.mu.Unlock()
	}()

	graph, err := BuildGraph(w)
	if err != nil {
		return e.finish(ctx, w, run, nil, err)
	}

	run.Status = domain.RunStatusRunning
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return domain.WorkflowRun{}, err
	}
	e.bus.Publish(domain.RunEventStarted, w.TenantID, w.ID, run.ID, "", nil)

	state := newRunState(w, run.Input)

	// Execute layer by layer. Nodes within a layer run concurrently,
	// bounded by the parallelism cap; the happens-before relation between
	// layers is the one the edges induce.
	for _, layer := range graph.Layers() {
		if runCtx.Err() != nil || stateStopped(state) {
			break
		}

		sem := make(chan struct{}, e.config.MaxParallelNodes)
		var wg sync.WaitGroup
		for _, nodeID := range layer {
			node, ok := graph.Node(nodeID)
			if !ok {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(n domain.WorkflowNode) {
				defer wg.Done()
				defer func() { <-sem }()
				e.executeNode(runCtx, w, &run, graph, state, n)
			}(node)
		}
		wg.Wait()
	}

	state.mu.Lock()
	failure := state.failure
	state.mu.Unlock()

	// A run-level deadline or cancellation takes precedence over the
	// node failure it induced.
	if runCtx.Err() != nil {
		failure = runCtx.Err()
	}
	run.Output = state.snapshotVars()
	return e.finish(ctx, w, run, runCtx, failure)
}

func stateStopped(s *runState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// finish assigns the terminal status, persists and publishes it.
func (e *Engine) finish(
	ctx context.Context,
	w domain.Workflow,
	run domain.WorkflowRun,
	runCtx context.Context,
	failure error,
) (domain.WorkflowRun, error) {
	now := time.Now()
	run.EndTime = &now
	run.DurationMs = now.Sub(run.StartTime).Milliseconds()

	eventType := domain.RunEventCompleted
	switch {
	case failure == nil:
		run.Status = domain.RunStatusCompleted
	case errors.Is(failure, context.DeadlineExceeded):
		run.Status = domain.RunStatusTimeout
		run.Error = "run timed out"
		eventType = domain.RunEventFailed
	case errors.Is(failure, context.Canceled):
		run.Status = domain.RunStatusCancelled
		run.Error = "run cancelled"
		eventType = domain.RunEventCancelled
	default:
		run.Status = domain.RunStatusFailed
		run.Error = failure.Error()
		eventType = domain.RunEventFailed
	}

	if err := e.runs.SaveRun(ctx, run); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Str("tenant_id", run.TenantID).Msg("failed to persist terminal run")
	}
	e.bus.Publish(eventType, w.TenantID, w.ID, run.ID, "", map[string]any{
		"status":      run.Status.String(),
		"duration_ms": run.DurationMs,
	})
	e.bus.ReleaseRun(run.ID)

	if failure != nil {
		return run, failure
	}
	return run, nil
}

// executeNode runs one node: gating, adapter dispatch, edge evaluation
// and error handling.
func (e *Engine) executeNode(
	runCtx context.Context,
	w domain.Workflow,
	run *domain.WorkflowRun,
	graph *Graph,
	state *runState,
	node domain.WorkflowNode,
) {
	if stateStopped(state) || runCtx.Err() != nil {
		return
	}

	// Disabled nodes are skipped with pass-through: downstream nodes
	// whose other predecessors are satisfied still run.
	if !node.IsEnabled {
		e.markSkipped(runCtx, w, run, state, node, "node disabled")
		e.takeEdges(graph, state, node, nil, true)
		return
	}

	if !e.shouldExecute(graph, state, node) {
		e.markSkipped(runCtx, w, run, state, node, "no incoming edge taken")
		return
	}

	inputs := state.snapshotVars()
	secret, err := e.resolveCredential(runCtx, w.TenantID, node)
	if err != nil {
		e.handleFailure(runCtx, w, run, graph, state, node, AdapterResult{
			Success: false, ErrorMessage: err.Error(),
		}, 1, false)
		return
	}

	result, attempts, timedOut := e.invokeWithPolicy(runCtx, w, run, state, node, inputs, secret)

	if result.Success {
		e.recordResult(runCtx, run, state, node, result, attempts, domain.NodeRunStatusSuccess, inputs)
		e.takeEdges(graph, state, node, result.Output, false)
		return
	}

	e.handleFailure(runCtx, w, run, graph, state, node, result, attempts, timedOut)
}

// shouldExecute gates a node on its incoming edges: entry nodes always
// run; otherwise at least one incoming edge must have been taken.
func (e *Engine) shouldExecute(graph *Graph, state *runState, node domain.WorkflowNode) bool {
	incoming := graph.Incoming(node.ID)
	if len(incoming) == 0 {
		return true
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, edge := range incoming {
		if state.edgeTaken[edge.ID] {
			return true
		}
	}
	return false
}

// takeEdges evaluates the node's outgoing edges after it finishes.
// Conditional nodes gate the true/false branches on their result; edge
// condition expressions are evaluated against the current variables.
// passthrough marks every edge taken (disabled or skipped nodes).
func (e *Engine) takeEdges(
	graph *Graph,
	state *runState,
	node domain.WorkflowNode,
	output map[string]any,
	passthrough bool,
) {
	vars := state.snapshotVars()

	branchResult, isConditional := false, false
	if node.ExecutionMode == domain.ModeConditional || node.Type == TypeIfCondition {
		if b, ok := output["result"].(bool); ok {
			branchResult, isConditional = b, true
		}
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	for _, edge := range graph.Outgoing(node.ID) {
		taken := true
		if passthrough {
			state.edgeTaken[edge.ID] = true
			continue
		}
		if isConditional && edge.Branch != "" {
			if (edge.Branch == "true") != branchResult {
				taken = false
			}
		}
		if taken && edge.Condition != "" {
			rendered := renderString(edge.Condition, vars)
			ok, err := evalBool(rendered, vars)
			if err != nil || !ok {
				taken = false
			}
		}
		state.edgeTaken[edge.ID] = taken
	}
}

// invokeWithPolicy runs the node's adapter (or mode-specific execution)
// under the node timeout, applying the retry policy when configured.
func (e *Engine) invokeWithPolicy(
	runCtx context.Context,
	w domain.Workflow,
	run *domain.WorkflowRun,
	state *runState,
	node domain.WorkflowNode,
	inputs map[string]any,
	secret string,
) (AdapterResult, int, bool) {
	maxAttempts, initialDelay, multiplier := e.retryPolicy(node)

	var result AdapterResult
	timedOut := false
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(float64(initialDelay) * math.Pow(multiplier, float64(attempt-2)))
			select {
			case <-runCtx.Done():
				return failure("run cancelled during retry wait", false), attempt, false
			case <-time.After(delay):
			}
			e.bus.Publish(domain.RunEventNodeProgress, w.TenantID, w.ID, run.ID, node.ID, map[string]any{
				"retry_attempt": attempt,
			})
		}

		result, timedOut = e.invokeOnce(runCtx, w, run, state, node, inputs, secret, attempt)
		if result.Success || timedOut {
			return result, attempt, timedOut
		}
		if runCtx.Err() != nil {
			return result, attempt, false
		}
		if attempt < maxAttempts {
			// A failed attempt that will be retried gets its own result;
			// the caller records the final attempt.
			e.recordResult(runCtx, run, state, node, result, attempt, domain.NodeRunStatusFailed, inputs)
		}
	}
	return result, maxAttempts, timedOut
}

func (e *Engine) retryPolicy(node domain.WorkflowNode) (int, time.Duration, float64) {
	if eh := node.ErrorHandling; eh != nil && eh.Strategy == domain.ErrorStrategyRetry && eh.MaxRetries > 0 {
		delay := time.Duration(eh.RetryDelayMs) * time.Millisecond
		if delay <= 0 {
			delay = time.Second
		}
		multiplier := 1.0
		if eh.UseExponentialBackoff {
			multiplier = 2.0
		}
		return eh.MaxRetries + 1, delay, multiplier
	}
	if rc := node.RetryConfig; rc != nil && rc.MaxAttempts > 1 {
		multiplier := rc.Multiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		delay := rc.InitialDelay
		if delay <= 0 {
			delay = time.Second
		}
		return rc.MaxAttempts, delay, multiplier
	}
	return 1, time.Second, 2.0
}

// invokeOnce performs one attempt, publishing NodeStarted and applying
// the node timeout.
func (e *Engine) invokeOnce(
	runCtx context.Context,
	w domain.Workflow,
	run *domain.WorkflowRun,
	state *runState,
	node domain.WorkflowNode,
	inputs map[string]any,
	secret string,
	attempt int,
) (AdapterResult, bool) {
	e.bus.Publish(domain.RunEventNodeStarted, w.TenantID, w.ID, run.ID, node.ID, map[string]any{
		"attempt": attempt,
	})

	timeout := e.config.DefaultNodeTimeout
	if node.TimeoutMs > 0 {
		timeout = time.Duration(node.TimeoutMs) * time.Millisecond
	}
	nodeCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	started := time.Now()
	var result AdapterResult
	switch node.ExecutionMode {
	case domain.ModeLoop:
		result = e.runLoop(nodeCtx, w, run, node, inputs, secret)
	case domain.ModeSubWorkflow:
		result = e.runSubWorkflow(nodeCtx, w, node, inputs)
	case domain.ModeConditional:
		result = e.runConditional(nodeCtx, node, inputs, secret)
	default:
		result = e.invokeAdapter(nodeCtx, w.TenantID, run.ID, node, inputs, secret)
	}
	result.DurationMs = time.Since(started).Milliseconds()

	timedOut := nodeCtx.Err() == context.DeadlineExceeded && runCtx.Err() == nil
	return result, timedOut
}

// runConditional evaluates the node's condition config, falling back to
// the logic.if adapter contract.
func (e *Engine) runConditional(
	ctx context.Context,
	node domain.WorkflowNode,
	inputs map[string]any,
	secret string,
) AdapterResult {
	if node.ConditionConfig != nil && node.ConditionConfig.Expression != "" {
		rendered := renderString(node.ConditionConfig.Expression, inputs)
		result, err := evalBool(rendered, inputs)
		if err != nil {
			return failure(err.Error(), false)
		}
		return success(map[string]any{"result": result})
	}
	adapter := &IfConditionAdapter{}
	return adapter.Execute(ctx, AdapterContext{
		NodeConfig: node.Config,
		Inputs:     inputs,
	})
}

// invokeAdapter dispatches to the registered adapter for the node type.
func (e *Engine) invokeAdapter(
	ctx context.Context,
	tenantID, runID string,
	node domain.WorkflowNode,
	inputs map[string]any,
	secret string,
) AdapterResult {
	adapter, ok := e.adapters.Get(node.Type)
	if !ok {
		return failure(fmt.Sprintf("no adapter registered for connector %q", node.Type), false)
	}
	return adapter.Execute(ctx, AdapterContext{
		TenantID:         tenantID,
		RunMetadata:      RunMetadata{RunID: runID, NodeID: node.ID},
		NodeConfig:       node.Config,
		Inputs:           inputs,
		CredentialSecret: secret,
	})
}

func (e *Engine) resolveCredential(ctx context.Context, tenantID string, node domain.WorkflowNode) (string, error) {
	if node.CredentialID == "" {
		return "", nil
	}
	if e.credentials == nil {
		return "", domain.NewConfigurationError("engine",
			fmt.Sprintf("node %s references credential %s but no credential source is configured", node.ID, node.CredentialID))
	}
	return e.credentials.DecryptSecret(ctx, tenantID, node.CredentialID)
}

// handleFailure applies the node's error handling strategy.
func (e *Engine) handleFailure(
	runCtx context.Context,
	w domain.Workflow,
	run *domain.WorkflowRun,
	graph *Graph,
	state *runState,
	node domain.WorkflowNode,
	result AdapterResult,
	attempts int,
	timedOut bool,
) {
	status := domain.NodeRunStatusFailed
	if timedOut {
		status = domain.NodeRunStatusTimeout
	}

	strategy := domain.ErrorStrategyStop
	if node.ErrorHandling != nil {
		strategy = node.ErrorHandling.Strategy
	}

	switch strategy {
	case domain.ErrorStrategySkip:
		e.recordResult(runCtx, run, state, node, result, attempts, domain.NodeRunStatusSkipped, nil)
		e.takeEdges(graph, state, node, nil, true)
		return

	case domain.ErrorStrategyContinue:
		// Continue without dependents receiving this node's output.
		e.recordResult(runCtx, run, state, node, result, attempts, status, nil)
		e.takeEdges(graph, state, node, nil, true)
		return

	case domain.ErrorStrategyFallback:
		if node.ErrorHandling.FallbackAction != nil {
			fallback := e.runInnerAction(runCtx, w.TenantID, run.ID, node, *node.ErrorHandling.FallbackAction, state.snapshotVars(), "")
			if fallback.Success {
				e.recordResult(runCtx, run, state, node, fallback, attempts, domain.NodeRunStatusSuccess, nil)
				e.takeEdges(graph, state, node, fallback.Output, false)
				return
			}
			result = fallback
		}
		fallthrough

	default: // Stop, and Retry after exhaustion
		e.recordResult(runCtx, run, state, node, result, attempts, status, nil)
		state.stop(fmt.Errorf("node %s failed: %s", nodeName(node), result.ErrorMessage))
	}
}

// runInnerAction executes an inline action (loop body, fallback).
func (e *Engine) runInnerAction(
	ctx context.Context,
	tenantID, runID string,
	node domain.WorkflowNode,
	action domain.InnerAction,
	inputs map[string]any,
	secret string,
) AdapterResult {
	adapter, ok := e.adapters.Get(action.Type)
	if !ok {
		return failure(fmt.Sprintf("no adapter registered for inner action %q", action.Type), false)
	}
	return adapter.Execute(ctx, AdapterContext{
		TenantID:         tenantID,
		RunMetadata:      RunMetadata{RunID: runID, NodeID: node.ID},
		NodeConfig:       action.Config,
		Inputs:           inputs,
		CredentialSecret: secret,
	})
}

// markSkipped records a Skipped result and publishes NodeFinished.
func (e *Engine) markSkipped(
	ctx context.Context,
	w domain.Workflow,
	run *domain.WorkflowRun,
	state *runState,
	node domain.WorkflowNode,
	reason string,
) {
	result := AdapterResult{Success: false, ErrorMessage: reason}
	e.recordResult(ctx, run, state, node, result, 0, domain.NodeRunStatusSkipped, nil)
}

// recordResult stores the node execution result, updates variables and
// publishes NodeFinished.
func (e *Engine) recordResult(
	ctx context.Context,
	run *domain.WorkflowRun,
	state *runState,
	node domain.WorkflowNode,
	result AdapterResult,
	attempt int,
	status domain.NodeRunStatus,
	inputs map[string]any,
) {
	now := time.Now()
	nodeResult := domain.NodeExecutionResult{
		RunID:     run.ID,
		NodeID:    node.ID,
		Status:    status,
		Input:     inputs,
		Output:    result.Output,
		StartTime: now.Add(-time.Duration(result.DurationMs) * time.Millisecond),
		EndTime:   &now,
		Attempt:   attempt,
	}
	if status != domain.NodeRunStatusSuccess {
		nodeResult.ErrorMessage = result.ErrorMessage
	}

	state.mu.Lock()
	state.status[node.ID] = status
	if status == domain.NodeRunStatusSuccess && result.Output != nil {
		state.outputs[node.ID] = result.Output
		state.vars[nodeName(node)] = result.Output
	}
	run.NodeResults = append(run.NodeResults, nodeResult)
	state.mu.Unlock()

	if err := e.runs.SaveNodeResult(ctx, nodeResult); err != nil {
		log.Error().Err(err).
			Str("run_id", run.ID).
			Str("node_id", node.ID).
			Msg("failed to persist node result")
	}
	e.bus.Publish(domain.RunEventNodeFinished, run.TenantID, run.WorkflowID, run.ID, node.ID, map[string]any{
		"status":  status.String(),
		"attempt": attempt,
	})
}

func nodeName(node domain.WorkflowNode) string {
	if node.Label != "" {
		return node.Label
	}
	return node.ID
}
