package provider

import (
	"context"
	"errors"

	"github.com/slack-go/slack"

	"github.com/notifyx/notifyx/internal/domain"
)

// slackAPI is the subset of the Slack client used by the provider.
// Narrowed for tests.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackProvider delivers to Slack channels and users via the Web API.
// The recipient id is the Slack channel or user id.
type SlackProvider struct {
	api    slackAPI
	health healthTracker
}

// NewSlackProvider creates a Slack provider.
func NewSlackProvider() *SlackProvider {
	return &SlackProvider{}
}

// Name identifies the provider in logs and results
func (p *SlackProvider) Name() string { return "slack" }

// Channel returns the channel this provider serves
func (p *SlackProvider) Channel() domain.Channel { return domain.ChannelSlack }

// Configure applies channel configuration.
func (p *SlackProvider) Configure(config map[string]any) error {
	token := stringConfig(config, "bot_token")
	if token == "" {
		return domain.NewConfigurationError("slack-provider", "bot_token is required")
	}
	p.api = slack.New(token)
	return nil
}

// SetAPI replaces the Slack client. Intended for tests.
func (p *SlackProvider) SetAPI(api slackAPI) {
	p.api = api
}

// Validate checks that the recipient resolves to a Slack target.
func (p *SlackProvider) Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult {
	if recipient.ID == "" {
		return domain.ValidationResult{Valid: false, Errors: []string{"recipient has no slack target id"}}
	}
	return domain.ValidationResult{Valid: true}
}

// Send delivers the rendered message.
func (p *SlackProvider) Send(
	ctx context.Context,
	event domain.NotificationEvent,
	recipient domain.NotificationRecipient,
	rendered domain.RenderResult,
) domain.DeliveryResult {
	if p.api == nil {
		return domain.DeliveryResult{
			Success:      false,
			ErrorCode:    "NOT_CONFIGURED",
			ErrorMessage: "slack provider is not configured",
			Retryable:    false,
		}
	}

	text := rendered.Body
	if rendered.Subject != "" {
		text = "*" + rendered.Subject + "*\n" + rendered.Body
	}

	_, timestamp, err := p.api.PostMessageContext(ctx, recipient.ID,
		slack.MsgOptionText(text, false))
	if err != nil {
		p.health.record(false)
		var rateLimited *slack.RateLimitedError
		if errors.As(err, &rateLimited) {
			return domain.DeliveryResult{
				Success:      false,
				ErrorCode:    "RATE_LIMITED",
				ErrorMessage: err.Error(),
				Retryable:    true,
			}
		}
		return domain.DeliveryResult{
			Success:      false,
			ErrorCode:    "SLACK_API",
			ErrorMessage: err.Error(),
			Retryable:    false,
		}
	}

	p.health.record(true)
	return domain.DeliveryResult{Success: true, ProviderMessageID: timestamp}
}

// Health reports the provider's current health
func (p *SlackProvider) Health() domain.HealthStatus {
	return p.health.status()
}
