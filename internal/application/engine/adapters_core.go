package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Built-in connector ids.
const (
	TypeManualTrigger         = "trigger.manual"
	TypeDeliveryStatusTrigger = "trigger.deliveryStatus"
	TypeHTTPRequest           = "http.request"
	TypeDBQuery               = "db.query"
	TypeSlackSend             = "slack.send"
	TypeSetData               = "data.set"
	TypeIfCondition           = "logic.if"
	TypeNotifySend            = "notifyx.send"
	TypeOpenAICompletion      = "openai.completion"
)

// ManualTriggerAdapter starts a run with the caller-supplied input. The
// trigger's output is the run input itself, so downstream nodes address
// it directly.
type ManualTriggerAdapter struct{}

// Type returns the connector id this adapter implements
func (a *ManualTriggerAdapter) Type() string { return TypeManualTrigger }

// Execute runs the adapter.
func (a *ManualTriggerAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	out := make(map[string]any, len(ac.Inputs))
	for k, v := range ac.Inputs {
		out[k] = v
	}
	return success(out)
}

// DeliveryStatusTriggerAdapter is the trigger source for runs started by
// a notification delivery-status transition. It normalises the listener
// payload into the run scope.
type DeliveryStatusTriggerAdapter struct{}

// Type returns the connector id this adapter implements
func (a *DeliveryStatusTriggerAdapter) Type() string { return TypeDeliveryStatusTrigger }

// Execute runs the adapter.
func (a *DeliveryStatusTriggerAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	out := make(map[string]any, len(ac.Inputs)+2)
	for k, v := range ac.Inputs {
		out[k] = v
	}
	if _, ok := out["notification_id"]; !ok {
		out["notification_id"] = ""
	}
	if _, ok := out["status"]; !ok {
		out["status"] = ""
	}
	return success(out)
}

// SetDataAdapter assigns fields into its output with optional type
// coercion. Config:
//
//	assignments: {field: value, ...}
//	types:       {field: "string"|"int"|"float"|"bool"}
type SetDataAdapter struct{}

// Type returns the connector id this adapter implements
func (a *SetDataAdapter) Type() string { return TypeSetData }

// Execute runs the adapter.
func (a *SetDataAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	assignments, _ := ac.NodeConfig["assignments"].(map[string]any)
	if assignments == nil {
		return failure("data.set requires an 'assignments' map", false)
	}
	types, _ := ac.NodeConfig["types"].(map[string]any)

	out := make(map[string]any, len(assignments))
	for field, raw := range assignments {
		value := resolveTemplated(raw, ac.Inputs)
		if typeName, ok := types[field].(string); ok {
			coerced, err := coerce(value, typeName)
			if err != nil {
				return failure(fmt.Sprintf("cannot coerce field %q: %v", field, err), false)
			}
			value = coerced
		}
		out[field] = value
	}
	return success(out)
}

// coerce converts a value to the named type.
func coerce(value any, typeName string) (any, error) {
	switch typeName {
	case "string":
		return fmt.Sprint(value), nil
	case "int":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			return strconv.Atoi(strings.TrimSpace(v))
		}
	case "float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		}
	case "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		}
	default:
		return nil, fmt.Errorf("unknown type %q", typeName)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", value, typeName)
}

// IfConditionAdapter evaluates a condition and outputs {"result": bool}.
// Two config shapes are supported:
//
//	expression: an expr-lang expression over the node inputs
//	left/operator/right (+ case_sensitive): a structured comparison with
//	operators equals, notEquals, contains, regex, greaterThan, lessThan,
//	isEmpty, isNotEmpty
type IfConditionAdapter struct{}

// Type returns the connector id this adapter implements
func (a *IfConditionAdapter) Type() string { return TypeIfCondition }

// Execute runs the adapter.
func (a *IfConditionAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	if expression, ok := ac.NodeConfig["expression"].(string); ok && expression != "" {
		rendered := renderString(expression, ac.Inputs)
		result, err := evalBool(rendered, ac.Inputs)
		if err != nil {
			return failure(err.Error(), false)
		}
		return success(map[string]any{"result": result})
	}

	operator, _ := ac.NodeConfig["operator"].(string)
	if operator == "" {
		return failure("logic.if requires 'expression' or 'operator'", false)
	}
	left := resolveTemplated(ac.NodeConfig["left"], ac.Inputs)
	right := resolveTemplated(ac.NodeConfig["right"], ac.Inputs)
	caseSensitive := true
	if cs, ok := ac.NodeConfig["case_sensitive"].(bool); ok {
		caseSensitive = cs
	}

	result, err := compare(left, operator, right, caseSensitive)
	if err != nil {
		return failure(err.Error(), false)
	}
	return success(map[string]any{"result": result})
}

func evalBool(expression string, scope map[string]any) (bool, error) {
	program, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("failed to compile condition %q: %w", expression, err)
	}
	result, err := expr.Run(program, scope)
	if err != nil {
		// A missing variable makes the condition false, matching rule
		// predicate behaviour.
		return false, nil
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return boolean", expression)
	}
	return b, nil
}

func compare(left any, operator string, right any, caseSensitive bool) (bool, error) {
	ls, rs := fmt.Sprint(left), fmt.Sprint(right)
	if !caseSensitive {
		ls, rs = strings.ToLower(ls), strings.ToLower(rs)
	}

	switch operator {
	case "equals":
		return ls == rs, nil
	case "notEquals":
		return ls != rs, nil
	case "contains":
		return strings.Contains(ls, rs), nil
	case "regex":
		re, err := regexp.Compile(rs)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", rs, err)
		}
		return re.MatchString(ls), nil
	case "greaterThan", "lessThan":
		lf, errL := toFloat(left)
		rf, errR := toFloat(right)
		if errL != nil || errR != nil {
			return false, fmt.Errorf("operator %s requires numeric operands", operator)
		}
		if operator == "greaterThan" {
			return lf > rf, nil
		}
		return lf < rf, nil
	case "isEmpty":
		return strings.TrimSpace(fmt.Sprint(left)) == "" || left == nil, nil
	case "isNotEmpty":
		return left != nil && strings.TrimSpace(fmt.Sprint(left)) != "", nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
