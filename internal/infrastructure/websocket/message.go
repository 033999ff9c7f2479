package websocket

import (
	"github.com/notifyx/notifyx/internal/domain"
)

// Command actions (client -> server)
const (
	CmdSubscribeToRun          = "SubscribeToRun"
	CmdSubscribeToWorkflow     = "SubscribeToWorkflow"
	CmdUnsubscribeFromRun      = "UnsubscribeFromRun"
	CmdUnsubscribeFromWorkflow = "UnsubscribeFromWorkflow"
)

// Command is a client -> server request.
type Command struct {
	Action     string `json:"action"`
	RunID      string `json:"run_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// Response acknowledges a command.
type Response struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Envelope is a server -> client push: either a run event or a command
// response.
type Envelope struct {
	Event    *domain.RunEvent `json:"event,omitempty"`
	Response *Response        `json:"response,omitempty"`
}
