package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/notifyx/notifyx/internal/domain"
)

// WebhookProvider delivers by POSTing the event to the recipient's
// webhook URL.
type WebhookProvider struct {
	client        *http.Client
	signingSecret string
	health        healthTracker
}

// NewWebhookProvider creates a webhook provider.
func NewWebhookProvider() *WebhookProvider {
	return &WebhookProvider{
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Name identifies the provider in logs and results
func (p *WebhookProvider) Name() string { return "webhook" }

// Channel returns the channel this provider serves
func (p *WebhookProvider) Channel() domain.Channel { return domain.ChannelWebhook }

// Configure applies channel configuration.
func (p *WebhookProvider) Configure(config map[string]any) error {
	p.signingSecret = stringConfig(config, "signing_secret")
	return nil
}

// Validate checks that the recipient carries a usable webhook URL.
func (p *WebhookProvider) Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult {
	if recipient.WebhookURL == "" {
		return domain.ValidationResult{Valid: false, Errors: []string{"recipient has no webhook url"}}
	}
	parsed, err := url.Parse(recipient.WebhookURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return domain.ValidationResult{Valid: false, Errors: []string{"invalid webhook url: " + recipient.WebhookURL}}
	}
	return domain.ValidationResult{Valid: true}
}

// Send delivers the rendered message.
func (p *WebhookProvider) Send(
	ctx context.Context,
	event domain.NotificationEvent,
	recipient domain.NotificationRecipient,
	rendered domain.RenderResult,
) domain.DeliveryResult {
	payload := map[string]any{
		"notification_id": event.ID,
		"event_type":      event.EventType,
		"priority":        event.Priority.String(),
		"subject":         rendered.Subject,
		"body":            rendered.Body,
		"action_url":      event.ActionURL,
		"correlation_id":  event.CorrelationID,
		"sent_at":         time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.DeliveryResult{Success: false, ErrorCode: "ENCODE", ErrorMessage: err.Error(), Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return domain.DeliveryResult{Success: false, ErrorCode: "REQUEST", ErrorMessage: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.signingSecret != "" {
		req.Header.Set("X-NotifyX-Signature", p.signingSecret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.health.record(false)
		return transportResult(err)
	}
	defer resp.Body.Close()

	result := resultFromStatus(resp.StatusCode, "")
	p.health.record(result.Success)
	return result
}

// Health reports the provider's current health
func (p *WebhookProvider) Health() domain.HealthStatus {
	return p.health.status()
}
