package domain

import (
	"time"
)

// RunStatus is the lifecycle state of a workflow run.
// Transitions: Pending -> Running -> {Completed, Failed, Cancelled,
// Timeout}. Terminal states are immutable.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimeout   RunStatus = "timeout"
)

// IsValid checks if the RunStatus is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted,
		RunStatusFailed, RunStatusCancelled, RunStatusTimeout:
		return true
	default:
		return false
	}
}

// String returns string representation of RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusTimeout:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status machine permits the move.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning || next == RunStatusCancelled
	case RunStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// NodeRunStatus is the lifecycle state of one node execution attempt.
type NodeRunStatus string

const (
	NodeRunStatusPending NodeRunStatus = "pending"
	NodeRunStatusRunning NodeRunStatus = "running"
	NodeRunStatusSuccess NodeRunStatus = "success"
	NodeRunStatusFailed  NodeRunStatus = "failed"
	NodeRunStatusSkipped NodeRunStatus = "skipped"
	NodeRunStatusTimeout NodeRunStatus = "timeout"
)

// IsValid checks if the NodeRunStatus is valid
func (s NodeRunStatus) IsValid() bool {
	switch s {
	case NodeRunStatusPending, NodeRunStatusRunning, NodeRunStatusSuccess,
		NodeRunStatusFailed, NodeRunStatusSkipped, NodeRunStatusTimeout:
		return true
	default:
		return false
	}
}

// String returns string representation of NodeRunStatus
func (s NodeRunStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status is final for the attempt.
func (s NodeRunStatus) IsTerminal() bool {
	switch s {
	case NodeRunStatusSuccess, NodeRunStatusFailed, NodeRunStatusSkipped, NodeRunStatusTimeout:
		return true
	default:
		return false
	}
}

// NodeExecutionResult records one attempt at executing one node.
// (RunID, NodeID, Attempt) is unique.
type NodeExecutionResult struct {
	RunID        string         `json:"run_id"`
	NodeID       string         `json:"node_id"`
	Status       NodeRunStatus  `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Attempt      int            `json:"attempt"`
}

// WorkflowRun is one execution instance of a workflow. Runs reference
// their workflow and node results by id only; there are no back-pointers.
type WorkflowRun struct {
	ID          string                `json:"id"`
	WorkflowID  string                `json:"workflow_id"`
	TenantID    string                `json:"tenant_id"`
	Status      RunStatus             `json:"status"`
	Mode        string                `json:"mode,omitempty"` // manual, trigger, replay
	Input       map[string]any        `json:"input,omitempty"`
	Output      map[string]any        `json:"output,omitempty"`
	StartTime   time.Time             `json:"start_time"`
	EndTime     *time.Time            `json:"end_time,omitempty"`
	DurationMs  int64                 `json:"duration_ms,omitempty"`
	TriggeredBy string                `json:"triggered_by,omitempty"`
	Error       string                `json:"error,omitempty"`
	NodeResults []NodeExecutionResult `json:"node_results,omitempty"`
}

// RunEventType names the events published on the run event bus.
type RunEventType string

const (
	RunEventCreated      RunEventType = "RunCreated"
	RunEventStarted      RunEventType = "RunStarted"
	RunEventNodeStarted  RunEventType = "NodeStarted"
	RunEventNodeProgress RunEventType = "NodeProgress"
	RunEventNodeFinished RunEventType = "NodeFinished"
	RunEventCompleted    RunEventType = "RunCompleted"
	RunEventFailed       RunEventType = "RunFailed"
	RunEventCancelled    RunEventType = "RunCancelled"
)

// RunEvent is one entry in a run's event stream. Seq increases
// monotonically per run; consumers deduplicate on it.
type RunEvent struct {
	Type       RunEventType   `json:"type"`
	TenantID   string         `json:"tenant_id"`
	WorkflowID string         `json:"workflow_id"`
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id,omitempty"`
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}
