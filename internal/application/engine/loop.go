package engine

import (
	"context"
	"fmt"

	"github.com/notifyx/notifyx/internal/domain"
)

// runLoop iterates a loop node's body per its loopConfig, bounded by
// MaxIterations, publishing per-iteration progress. The node's output
// collects every iteration result.
func (e *Engine) runLoop(
	ctx context.Context,
	w domain.Workflow,
	run *domain.WorkflowRun,
	node domain.WorkflowNode,
	inputs map[string]any,
	secret string,
) AdapterResult {
	cfg := node.LoopConfig
	if cfg == nil {
		return failure("loop node has no loop config", false)
	}
	if !cfg.Mode.IsValid() {
		return failure(fmt.Sprintf("unknown loop mode %q", cfg.Mode), false)
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = e.config.DefaultMaxIterations
	}

	var items []any
	if cfg.Mode == domain.LoopModeForEach {
		raw := lookupPath(inputs, cfg.ItemsPath)
		list, ok := raw.([]any)
		if !ok {
			return failure(fmt.Sprintf("loop items path %q does not resolve to a list", cfg.ItemsPath), false)
		}
		items = list
	}

	var results []any
	iteration := 0
	for {
		if ctx.Err() != nil {
			return failure("loop cancelled", false)
		}
		if iteration >= maxIterations {
			break
		}

		// Termination checks per mode, before the body except for
		// do_while which checks after.
		switch cfg.Mode {
		case domain.LoopModeForEach:
			if iteration >= len(items) {
				goto done
			}
		case domain.LoopModeFor:
			if iteration >= cfg.Count {
				goto done
			}
		case domain.LoopModeWhile:
			ok, err := e.loopCondition(cfg.Condition, inputs, iteration, items, results)
			if err != nil {
				return failure(err.Error(), false)
			}
			if !ok {
				goto done
			}
		}

		scope := loopScope(inputs, iteration, items, results)
		var output map[string]any
		if cfg.Body != nil {
			result := e.runInnerAction(ctx, w.TenantID, run.ID, node, *cfg.Body, scope, secret)
			if !result.Success {
				return failure(fmt.Sprintf("loop iteration %d failed: %s", iteration, result.ErrorMessage), result.Retryable)
			}
			output = result.Output
		} else if cfg.Mode == domain.LoopModeForEach {
			output = map[string]any{"item": items[iteration]}
		}
		results = append(results, output)

		e.bus.Publish(domain.RunEventNodeProgress, w.TenantID, w.ID, run.ID, node.ID, map[string]any{
			"iteration": iteration,
			"total":     len(items),
		})
		iteration++

		if cfg.BreakCondition != "" {
			scope = loopScope(inputs, iteration, items, results)
			ok, err := evalBool(renderString(cfg.BreakCondition, scope), scope)
			if err != nil {
				return failure(err.Error(), false)
			}
			if ok {
				break
			}
		}

		if cfg.Mode == domain.LoopModeDoWhile {
			ok, err := e.loopCondition(cfg.Condition, inputs, iteration, items, results)
			if err != nil {
				return failure(err.Error(), false)
			}
			if !ok {
				break
			}
		}
	}

done:
	return success(map[string]any{
		"iterations": iteration,
		"results":    results,
	})
}

func (e *Engine) loopCondition(
	condition string,
	inputs map[string]any,
	iteration int,
	items []any,
	results []any,
) (bool, error) {
	if condition == "" {
		return false, fmt.Errorf("loop requires a condition for while/do_while mode")
	}
	scope := loopScope(inputs, iteration, items, results)
	return evalBool(renderString(condition, scope), scope)
}

// loopScope extends the node inputs with iteration variables.
func loopScope(inputs map[string]any, iteration int, items []any, results []any) map[string]any {
	scope := make(map[string]any, len(inputs)+3)
	for k, v := range inputs {
		scope[k] = v
	}
	scope["iteration"] = iteration
	if iteration < len(items) {
		scope["item"] = items[iteration]
	}
	scope["results"] = results
	return scope
}
