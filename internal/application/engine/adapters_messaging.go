package engine

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/slack-go/slack"

	"github.com/notifyx/notifyx/internal/application/notification"
	"github.com/notifyx/notifyx/internal/domain"
)

// SlackSendAdapter posts a message to a Slack channel. The credential
// secret is the bot token. Config:
//
//	channel: Slack channel or user id (templated)
//	message: message text (templated)
type SlackSendAdapter struct {
	// newClient is swapped in tests
	newClient func(token string) slackPoster
}

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// NewSlackSendAdapter creates the slack.send adapter.
func NewSlackSendAdapter() *SlackSendAdapter {
	return &SlackSendAdapter{
		newClient: func(token string) slackPoster { return slack.New(token) },
	}
}

// Type returns the connector id this adapter implements
func (a *SlackSendAdapter) Type() string { return TypeSlackSend }

// Execute runs the adapter.
func (a *SlackSendAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	if ac.CredentialSecret == "" {
		return failure("slack.send requires a credential (bot token)", false)
	}
	config := renderConfig(ac.NodeConfig, ac.Inputs)

	channel, _ := config["channel"].(string)
	message, _ := config["message"].(string)
	if channel == "" || message == "" {
		return failure("slack.send requires 'channel' and 'message'", false)
	}

	client := a.newClient(ac.CredentialSecret)
	_, timestamp, err := client.PostMessageContext(ctx, channel, slack.MsgOptionText(message, false))
	if err != nil {
		return failure("slack post failed: "+err.Error(), true)
	}
	return success(map[string]any{
		"channel":   channel,
		"timestamp": timestamp,
	})
}

// NotifySendAdapter bridges workflows into the notification
// orchestrator: the node builds an event and sends it through the full
// pipeline. Config:
//
//	event_type, priority, subject, content (templated)
//	channels:   list of channel names
//	recipients: list of recipient objects (templated); falls back to the
//	            "recipients" input
type NotifySendAdapter struct {
	orchestrator *notification.Orchestrator
}

// NewNotifySendAdapter creates the notifyx.send adapter.
func NewNotifySendAdapter(orchestrator *notification.Orchestrator) *NotifySendAdapter {
	return &NotifySendAdapter{orchestrator: orchestrator}
}

// Type returns the connector id this adapter implements
func (a *NotifySendAdapter) Type() string { return TypeNotifySend }

// Execute runs the adapter.
func (a *NotifySendAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	config := renderConfig(ac.NodeConfig, ac.Inputs)

	eventType, _ := config["event_type"].(string)
	if eventType == "" {
		eventType = "workflow.notification"
	}
	priority := domain.Priority(stringOr(config, "priority", domain.PriorityNormal.String()))
	if !priority.IsValid() {
		priority = domain.PriorityNormal
	}

	recipients, err := parseRecipients(config["recipients"], ac.Inputs["recipients"])
	if err != nil {
		return failure(err.Error(), false)
	}
	channels := parseChannels(config["channels"])
	if len(channels) == 0 {
		channels = []domain.Channel{domain.ChannelEmail}
	}

	event := domain.NotificationEvent{
		TenantID:          ac.TenantID,
		EventType:         eventType,
		Priority:          priority,
		Subject:           stringOr(config, "subject", ""),
		Content:           stringOr(config, "content", ""),
		Recipients:        recipients,
		PreferredChannels: channels,
		Source:            "workflow",
		CorrelationID:     ac.RunMetadata.RunID,
		Metadata: map[string]any{
			"run_id":  ac.RunMetadata.RunID,
			"node_id": ac.RunMetadata.NodeID,
		},
	}

	outcome, err := a.orchestrator.Send(ctx, event)
	if err != nil {
		return failure("notification send failed: "+err.Error(), false)
	}

	enqueued := 0
	for _, t := range outcome.Targets {
		if t.Enqueued {
			enqueued++
		}
	}
	return success(map[string]any{
		"notification_id": outcome.NotificationID,
		"status":          outcome.Status.String(),
		"targets":         enqueued,
	})
}

func stringOr(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func parseChannels(raw any) []domain.Channel {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []domain.Channel
	for _, item := range list {
		ch := domain.Channel(fmt.Sprint(item))
		if ch.IsValid() {
			out = append(out, ch)
		}
	}
	return out
}

func parseRecipients(configured, input any) ([]domain.NotificationRecipient, error) {
	raw := configured
	if raw == nil {
		raw = input
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("notifyx.send requires recipients in config or inputs")
	}

	var out []domain.NotificationRecipient
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("recipient entries must be objects")
		}
		r := domain.NotificationRecipient{
			ID:          stringOr(m, "id", ""),
			Name:        stringOr(m, "name", ""),
			Email:       stringOr(m, "email", ""),
			PhoneNumber: stringOr(m, "phone_number", ""),
			DeviceID:    stringOr(m, "device_id", ""),
			WebhookURL:  stringOr(m, "webhook_url", ""),
		}
		if meta, ok := m["metadata"].(map[string]any); ok {
			r.Metadata = meta
		}
		out = append(out, r)
	}
	return out, nil
}

// OpenAICompletionAdapter generates text with the OpenAI chat API. The
// credential secret is the API key. Config:
//
//	prompt: user prompt (templated)
//	model:  model name (default gpt-4o)
type OpenAICompletionAdapter struct {
	// newClient is swapped in tests
	newClient func(apiKey string) openaiCompleter
}

type openaiCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAICompletionAdapter creates the openai.completion adapter.
func NewOpenAICompletionAdapter() *OpenAICompletionAdapter {
	return &OpenAICompletionAdapter{
		newClient: func(apiKey string) openaiCompleter { return openai.NewClient(apiKey) },
	}
}

// Type returns the connector id this adapter implements
func (a *OpenAICompletionAdapter) Type() string { return TypeOpenAICompletion }

// Execute runs the adapter.
func (a *OpenAICompletionAdapter) Execute(ctx context.Context, ac AdapterContext) AdapterResult {
	apiKey := ac.CredentialSecret
	if apiKey == "" {
		apiKey, _ = ac.NodeConfig["api_key"].(string)
	}
	if apiKey == "" {
		return failure("openai.completion requires an API key credential", false)
	}

	config := renderConfig(ac.NodeConfig, ac.Inputs)
	prompt, _ := config["prompt"].(string)
	if prompt == "" {
		return failure("openai.completion requires a 'prompt'", false)
	}
	model := stringOr(config, "model", openai.GPT4o)

	client := a.newClient(apiKey)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return failure("completion failed: "+err.Error(), true)
	}
	if len(resp.Choices) == 0 {
		return failure("completion returned no choices", true)
	}

	return success(map[string]any{
		"output":            resp.Choices[0].Message.Content,
		"model":             resp.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	})
}
