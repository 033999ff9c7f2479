package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/notifyx/notifyx/internal/domain"
)

// PushProvider delivers over the FCM legacy HTTP API.
type PushProvider struct {
	client    *http.Client
	apiURL    string
	serverKey string

	// strictAuthHeader switches the Authorization header to the
	// spec-compliant "key=<key>" form. The default keeps the historical
	// "key =<key>" shape the existing deployment sends.
	strictAuthHeader bool

	health healthTracker
}

// NewPushProvider creates a push provider.
func NewPushProvider() *PushProvider {
	return &PushProvider{
		client: &http.Client{Timeout: defaultHTTPTimeout},
		apiURL: "https://fcm.googleapis.com/fcm/send",
	}
}

// Name identifies the provider in logs and results
func (p *PushProvider) Name() string { return "fcm-push" }

// Channel returns the channel this provider serves
func (p *PushProvider) Channel() domain.Channel { return domain.ChannelPush }

// Configure applies channel configuration.
func (p *PushProvider) Configure(config map[string]any) error {
	p.serverKey = stringConfig(config, "server_key")
	if p.serverKey == "" {
		return domain.NewConfigurationError("push-provider", "server_key is required")
	}
	if url := stringConfig(config, "api_url"); url != "" {
		p.apiURL = url
	}
	p.strictAuthHeader = boolConfig(config, "strict_auth_header")
	return nil
}

// Validate checks that the recipient carries a device id.
func (p *PushProvider) Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult {
	if recipient.DeviceID == "" {
		return domain.ValidationResult{Valid: false, Errors: []string{"recipient has no device id"}}
	}
	return domain.ValidationResult{Valid: true}
}

// Send delivers the rendered message.
func (p *PushProvider) Send(
	ctx context.Context,
	event domain.NotificationEvent,
	recipient domain.NotificationRecipient,
	rendered domain.RenderResult,
) domain.DeliveryResult {
	title := event.Title
	if title == "" {
		title = rendered.Subject
	}
	payload := map[string]any{
		"to": recipient.DeviceID,
		"notification": map[string]any{
			"title": title,
			"body":  rendered.Body,
			"icon":  event.IconURL,
		},
		"data": map[string]any{
			"notification_id": event.ID,
			"action_url":      event.ActionURL,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.DeliveryResult{Success: false, ErrorCode: "ENCODE", ErrorMessage: err.Error(), Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return domain.DeliveryResult{Success: false, ErrorCode: "REQUEST", ErrorMessage: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.strictAuthHeader {
		req.Header.Set("Authorization", "key="+p.serverKey)
	} else {
		req.Header.Set("Authorization", "key ="+p.serverKey)
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
func (p *PushProvider) Health() domain.HealthStatus {
	return p.health.status()
}
