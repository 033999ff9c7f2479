package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/mail"

	"github.com/notifyx/notifyx/internal/domain"
)

// EmailProvider delivers over a SendGrid-compatible HTTP API.
type EmailProvider struct {
	client      *http.Client
	apiURL      string
	apiKey      string
	fromAddress string
	health      healthTracker
}

// NewEmailProvider creates an email provider.
func NewEmailProvider() *EmailProvider {
	return &EmailProvider{
		client: &http.Client{Timeout: defaultHTTPTimeout},
		apiURL: "https://api.sendgrid.com/v3/mail/send",
	}
}

// Name identifies the provider in logs and results
func (p *EmailProvider) Name() string { return "sendgrid-email" }

// Channel returns the channel this provider serves
func (p *EmailProvider) Channel() domain.Channel { return domain.ChannelEmail }

// Configure applies channel configuration.
func (p *EmailProvider) Configure(config map[string]any) error {
	if url := stringConfig(config, "api_url"); url != "" {
		p.apiURL = url
	}
	p.apiKey = stringConfig(config, "api_key")
	p.fromAddress = stringConfig(config, "from_address")
	if p.fromAddress == "" {
		return domain.NewConfigurationError("email-provider", "from_address is required")
	}
	return nil
}

// Validate checks that the recipient carries a parseable email address.
func (p *EmailProvider) Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult {
	if recipient.Email == "" {
		return domain.ValidationResult{Valid: false, Errors: []string{"recipient has no email address"}}
	}
	if _, err := mail.ParseAddress(recipient.Email); err != nil {
		return domain.ValidationResult{Valid: false, Errors: []string{"invalid email address: " + recipient.Email}}
	}
	return domain.ValidationResult{Valid: true}
}

// Send delivers the rendered message.
func (p *EmailProvider) Send(
	ctx context.Context,
	event domain.NotificationEvent,
	recipient domain.NotificationRecipient,
	rendered domain.RenderResult,
) domain.DeliveryResult {
	subject := rendered.Subject
	if subject == "" {
		subject = event.Subject
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": recipient.Email, "name": recipient.Name}}},
		},
		"from":    map[string]string{"email": p.fromAddress},
		"subject": subject,
		"content": []map[string]string{{"type": "text/plain", "value": rendered.Body}},
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
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.health.record(false)
		return transportResult(err)
	}
	defer resp.Body.Close()

	result := resultFromStatus(resp.StatusCode, resp.Header.Get("X-Message-Id"))
	p.health.record(result.Success)
	return result
}

// Health reports the provider's current health
func (p *EmailProvider) Health() domain.HealthStatus {
	return p.health.status()
}
