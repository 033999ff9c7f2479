package engine

import (
	"encoding/json"

	"github.com/notifyx/notifyx/internal/application/notification"
	"github.com/notifyx/notifyx/internal/domain"
)

// RegisterBuiltinAdapters installs the built-in adapter set. db may be
// nil (the db.query adapter then reports itself unconfigured) and
// orchestrator may be nil to leave notifyx.send unregistered.
func RegisterBuiltinAdapters(reg *AdapterRegistry, orchestrator *notification.Orchestrator, db Querier) {
	reg.Register(&ManualTriggerAdapter{})
	reg.Register(&DeliveryStatusTriggerAdapter{})
	reg.Register(NewHTTPRequestAdapter())
	reg.Register(NewDBQueryAdapter(db))
	reg.Register(NewSlackSendAdapter())
	reg.Register(&SetDataAdapter{})
	reg.Register(&IfConditionAdapter{})
	reg.Register(NewOpenAICompletionAdapter())
	if orchestrator != nil {
		reg.Register(NewNotifySendAdapter(orchestrator))
	}
}

// BuiltinManifests returns registry manifests for the built-in
// connectors so freshly-bootstrapped deployments validate out of the
// box.
func BuiltinManifests() []domain.ConnectorManifest {
	schema := func(s string) json.RawMessage { return json.RawMessage(s) }

	return []domain.ConnectorManifest{
		{
			ID: TypeManualTrigger, Version: "1.0.0",
			Type: domain.ConnectorTypeTrigger, Category: "core",
			DisplayName: "Manual Trigger",
		},
		{
			ID: TypeDeliveryStatusTrigger, Version: "1.0.0",
			Type: domain.ConnectorTypeTrigger, Category: "notifications",
			DisplayName: "Delivery Status",
			Outputs: []domain.ParameterSpec{
				{Name: "notification_id", Type: "string"},
				{Name: "status", Type: "string"},
			},
		},
		{
			ID: TypeHTTPRequest, Version: "1.2.0",
			Type: domain.ConnectorTypeAction, Category: "network",
			DisplayName: "HTTP Request",
			InputSchema: schema(`{"type":"object","required":["url"],"properties":{"url":{"type":"string"},"method":{"type":"string"},"headers":{"type":"object"}}}`),
			Outputs: []domain.ParameterSpec{
				{Name: "status_code", Type: "int"},
				{Name: "body", Type: "string"},
			},
		},
		{
			ID: TypeDBQuery, Version: "1.0.0",
			Type: domain.ConnectorTypeAction, Category: "data",
			DisplayName: "Database Query",
			InputSchema: schema(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"},"args":{"type":"array"}}}`),
		},
		{
			ID: TypeSlackSend, Version: "1.1.0",
			Type: domain.ConnectorTypeAction, Category: "messaging",
			DisplayName: "Slack Message",
			Auth:        domain.AuthSpec{Kind: "api_key"},
			InputSchema: schema(`{"type":"object","required":["channel","message"],"properties":{"channel":{"type":"string"},"message":{"type":"string"}}}`),
		},
		{
			ID: TypeSetData, Version: "1.0.0",
			Type: domain.ConnectorTypeTransform, Category: "data",
			DisplayName: "Set Data",
			InputSchema: schema(`{"type":"object","required":["assignments"],"properties":{"assignments":{"type":"object"},"types":{"type":"object"}}}`),
		},
		{
			ID: TypeIfCondition, Version: "1.0.0",
			Type: domain.ConnectorTypeTransform, Category: "logic",
			DisplayName: "If Condition",
			Outputs:     []domain.ParameterSpec{{Name: "result", Type: "bool"}},
		},
		{
			ID: TypeNotifySend, Version: "2.0.0",
			Type: domain.ConnectorTypeAction, Category: "notifications",
			DisplayName: "Send Notification",
			InputSchema: schema(`{"type":"object","properties":{"event_type":{"type":"string"},"priority":{"type":"string"},"subject":{"type":"string"},"content":{"type":"string"}}}`),
		},
		{
			ID: TypeOpenAICompletion, Version: "1.0.0",
			Type: domain.ConnectorTypeAction, Category: "ai",
			DisplayName: "OpenAI Completion",
			Auth:        domain.AuthSpec{Kind: "api_key"},
			InputSchema: schema(`{"type":"object","required":["prompt"],"properties":{"prompt":{"type":"string"},"model":{"type":"string"}}}`),
		},
	}
}
