package domain

import (
	"time"
)

// ExecutionMode defines how the engine treats a node when it becomes
// ready.
type ExecutionMode string

const (
	// ModeSequential invokes the adapter and follows outgoing edges
	ModeSequential ExecutionMode = "sequential"

	// ModeParallel is scheduled together with other ready nodes of its layer
	ModeParallel ExecutionMode = "parallel"

	// ModeConditional routes to the true or false branch of its condition
	ModeConditional ExecutionMode = "conditional"

	// ModeLoop iterates its body action per loopConfig
	ModeLoop ExecutionMode = "loop"

	// ModeSubWorkflow starts a nested run
	ModeSubWorkflow ExecutionMode = "sub_workflow"
)

// IsValid checks if the ExecutionMode is valid
func (m ExecutionMode) IsValid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeConditional, ModeLoop, ModeSubWorkflow:
		return true
	default:
		return false
	}
}

// String returns string representation of ExecutionMode
func (m ExecutionMode) String() string {
	return string(m)
}

// LoopMode defines the iteration style of a loop node.
type LoopMode string

const (
	LoopModeForEach LoopMode = "for_each"
	LoopModeFor     LoopMode = "for"
	LoopModeWhile   LoopMode = "while"
	LoopModeDoWhile LoopMode = "do_while"
)

// IsValid checks if the LoopMode is valid
func (m LoopMode) IsValid() bool {
	switch m {
	case LoopModeForEach, LoopModeFor, LoopModeWhile, LoopModeDoWhile:
		return true
	default:
		return false
	}
}

// InnerAction is an inline adapter invocation embedded in a node config
// (loop bodies, fallback actions).
type InnerAction struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// EdgeRef names an edge by its endpoints.
type EdgeRef struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LoopConfig configures a loop node. Exactly one of Items/Count/Condition
// drives iteration depending on Mode. A declared BackEdge exempts that
// edge from the top-level acyclicity check.
type LoopConfig struct {
	Mode           LoopMode     `json:"mode"`
	ItemsPath      string       `json:"items_path,omitempty"` // for_each: path into node inputs
	Count          int          `json:"count,omitempty"`      // for
	Condition      string       `json:"condition,omitempty"`  // while / do_while
	BreakCondition string       `json:"break_condition,omitempty"`
	MaxIterations  int          `json:"max_iterations,omitempty"`
	Body           *InnerAction `json:"body,omitempty"`
	BackEdge       *EdgeRef     `json:"back_edge,omitempty"`
}

// ConditionConfig configures a conditional node.
type ConditionConfig struct {
	Expression string `json:"expression"`
}

// SubWorkflowConfig configures a sub-workflow node.
type SubWorkflowConfig struct {
	WorkflowID        string            `json:"workflow_id"`
	InputMapping      map[string]string `json:"input_mapping,omitempty"` // child input <- parent path
	WaitForCompletion bool              `json:"wait_for_completion"`
	MergeOutputs      bool              `json:"merge_outputs"`
}

// ErrorStrategy defines how a node failure is handled.
type ErrorStrategy string

const (
	// ErrorStrategyStop ends the run
	ErrorStrategyStop ErrorStrategy = "stop"

	// ErrorStrategyRetry reattempts with backoff up to MaxRetries
	ErrorStrategyRetry ErrorStrategy = "retry"

	// ErrorStrategySkip marks the node Skipped and continues
	ErrorStrategySkip ErrorStrategy = "skip"

	// ErrorStrategyFallback runs the fallback action in the node's place
	ErrorStrategyFallback ErrorStrategy = "fallback"

	// ErrorStrategyContinue continues without the node's output
	ErrorStrategyContinue ErrorStrategy = "continue"
)

// IsValid checks if the ErrorStrategy is valid
func (s ErrorStrategy) IsValid() bool {
	switch s {
	case ErrorStrategyStop, ErrorStrategyRetry, ErrorStrategySkip,
		ErrorStrategyFallback, ErrorStrategyContinue:
		return true
	default:
		return false
	}
}

// ErrorHandling configures failure behaviour for one node.
type ErrorHandling struct {
	Strategy              ErrorStrategy `json:"strategy"`
	MaxRetries            int           `json:"max_retries,omitempty"`
	RetryDelayMs          int64         `json:"retry_delay_ms,omitempty"`
	UseExponentialBackoff bool          `json:"use_exponential_backoff,omitempty"`
	FallbackAction        *InnerAction  `json:"fallback_action,omitempty"`
}

// NodeRetryConfig configures delivery-independent node retries.
type NodeRetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	Jitter       bool          `json:"jitter"`
}

// Position locates a node on the canvas. Carried opaquely for the
// front-end's benefit.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WorkflowNode is one connector invocation inside a workflow graph.
type WorkflowNode struct {
	ID                string             `json:"id"`
	Type              string             `json:"type"` // connector id
	Label             string             `json:"label,omitempty"`
	Position          Position           `json:"position"`
	Config            map[string]any     `json:"config,omitempty"`
	CredentialID      string             `json:"credential_id,omitempty"`
	RetryConfig       *NodeRetryConfig   `json:"retry_config,omitempty"`
	TimeoutMs         int64              `json:"timeout_ms,omitempty"`
	IsEnabled         bool               `json:"is_enabled"`
	ExecutionMode     ExecutionMode      `json:"execution_mode,omitempty"`
	LoopConfig        *LoopConfig        `json:"loop_config,omitempty"`
	ConditionConfig   *ConditionConfig   `json:"condition_config,omitempty"`
	SubWorkflowConfig *SubWorkflowConfig `json:"sub_workflow_config,omitempty"`
	ErrorHandling     *ErrorHandling     `json:"error_handling,omitempty"`
}

// WorkflowEdge connects two nodes. An optional Condition expression gates
// traversal; Branch marks the true/false arms of a conditional node.
type WorkflowEdge struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
	Branch    string `json:"branch,omitempty"` // "", "true", "false"
}

// Workflow is a tenant-owned directed graph of connector invocations.
type Workflow struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Name      string         `json:"name"`
	Version   int            `json:"version"`
	Nodes     []WorkflowNode `json:"nodes"`
	Edges     []WorkflowEdge `json:"edges"`
	Triggers  []string       `json:"triggers,omitempty"` // ids of trigger nodes
	Globals   map[string]any `json:"globals,omitempty"`
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Node returns the node with the given id.
func (w Workflow) Node(id string) (WorkflowNode, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return WorkflowNode{}, false
}

// OutgoingEdges returns the edges leaving the given node.
func (w Workflow) OutgoingEdges(nodeID string) []WorkflowEdge {
	var out []WorkflowEdge
	for _, e := range w.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns the edges entering the given node.
func (w Workflow) IncomingEdges(nodeID string) []WorkflowEdge {
	var in []WorkflowEdge
	for _, e := range w.Edges {
		if e.To == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// ConnectorRefs returns the distinct connector ids used by the workflow.
func (w Workflow) ConnectorRefs() []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, n := range w.Nodes {
		if _, ok := seen[n.Type]; ok {
			continue
		}
		seen[n.Type] = struct{}{}
		refs = append(refs, n.Type)
	}
	return refs
}
