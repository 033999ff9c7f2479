package engine

import (
	"context"

	"github.com/notifyx/notifyx/internal/domain"
)

// runSubWorkflow starts a nested run for a sub-workflow node. Inputs map
// from the parent scope per InputMapping; with an empty mapping the node
// inputs pass through whole. When WaitForCompletion is set the node
// blocks until the nested run terminates and, with MergeOutputs, its
// output is stored under the node output's "output" key next to run_id
// and status (the engine then namespaces the node output under the node
// name like any other output).
func (e *Engine) runSubWorkflow(
	ctx context.Context,
	w domain.Workflow,
	node domain.WorkflowNode,
	inputs map[string]any,
) AdapterResult {
	cfg := node.SubWorkflowConfig
	if cfg == nil || cfg.WorkflowID == "" {
		return failure("sub-workflow node has no workflow reference", false)
	}
	if cfg.WorkflowID == w.ID {
		return failure("sub-workflow cannot reference its own workflow", false)
	}

	child, err := e.workflows.Get(ctx, w.TenantID, cfg.WorkflowID)
	if err != nil {
		return failure("sub-workflow not found: "+err.Error(), false)
	}

	childInput := make(map[string]any)
	if len(cfg.InputMapping) > 0 {
		for childKey, parentPath := range cfg.InputMapping {
			if value := lookupPath(inputs, parentPath); value != nil {
				childInput[childKey] = value
			}
		}
	} else {
		for k, v := range inputs {
			childInput[k] = v
		}
	}

	if !cfg.WaitForCompletion {
		childRun, err := e.StartRun(ctx, child, childInput, "sub_workflow", node.ID)
		if err != nil {
			return failure("failed to start sub-workflow: "+err.Error(), false)
		}
		return success(map[string]any{
			"run_id": childRun.ID,
			"status": childRun.Status.String(),
		})
	}

	childRun, err := e.Execute(ctx, child, childInput, "sub_workflow", node.ID)
	if err != nil {
		return failure("sub-workflow failed: "+err.Error(), false)
	}

	output := map[string]any{
		"run_id": childRun.ID,
		"status": childRun.Status.String(),
	}
	if cfg.MergeOutputs && childRun.Output != nil {
		output["output"] = childRun.Output
	}
	if childRun.Status != domain.RunStatusCompleted {
		return failure("sub-workflow run finished with status "+childRun.Status.String(), false)
	}
	return success(output)
}
